// Copyright (c) 2021 - 2024 Fraunhofer AISEC
// Fraunhofer-Gesellschaft zur Foerderung der angewandten Forschung e.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package snp

import (
	"errors"
	"fmt"
)

// ParseErrorKind classifies why an attestation report could not be parsed
type ParseErrorKind int

const (
	ErrSize ParseErrorKind = iota
	ErrReserved
	ErrVersion
	ErrSigningKey
	ErrDecode
	ErrFormat
)

func (k ParseErrorKind) String() string {
	switch k {
	case ErrSize:
		return "size"
	case ErrReserved:
		return "reserved"
	case ErrVersion:
		return "version"
	case ErrSigningKey:
		return "signing key"
	case ErrDecode:
		return "decode"
	case ErrFormat:
		return "format"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseError is returned for malformed or unsupported attestation reports
type ParseError struct {
	Kind  ParseErrorKind
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("failed to parse SNP report (%v, %v): %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("failed to parse SNP report (%v): %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(kind ParseErrorKind, field string, format string, args ...any) *ParseError {
	return &ParseError{
		Kind:  kind,
		Field: field,
		Err:   fmt.Errorf(format, args...),
	}
}

// IsParseError returns the kind of the ParseError contained in err, if any
func IsParseError(err error) (ParseErrorKind, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
