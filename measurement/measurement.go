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

// Package measurement compares the measurement obtained from the hardware
// attestation with the measurement recorded in the code provenance.
package measurement

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
)

// Predicate types identifying the shape of a measurement
const (
	SevGuestV1            = "https://tinfoil.sh/predicate/sev-snp-guest/v1"
	SevGuestV2            = "https://tinfoil.sh/predicate/sev-snp-guest/v2"
	SnpTdxMultiPlatformV1 = "https://tinfoil.sh/predicate/snp-tdx-multiplatform/v1"
	TdxGuestV1            = "https://tinfoil.sh/predicate/tdx-guest/v1"
	AWSNitroEnclaveV1     = "https://tinfoil.sh/predicate/aws-nitro-enclave/v1"
)

// snpCompatible are the predicate types carrying the same SEV-SNP launch
// measurement in their first register
var snpCompatible = []string{
	SevGuestV1,
	SevGuestV2,
	SnpTdxMultiPlatformV1,
}

var (
	ErrFormatMismatch      = errors.New("attestation format mismatch")
	ErrMeasurementMismatch = errors.New("measurement mismatch")
)

// AttestationMeasurement is a typed list of measurement registers
type AttestationMeasurement struct {
	Type      string   `json:"type" cbor:"0,keyasint"`
	Registers []string `json:"registers" cbor:"1,keyasint"`
}

// FormatMismatchError is returned if two measurements have incompatible types
type FormatMismatchError struct {
	A, B string
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("%v: %q is not comparable to %q", ErrFormatMismatch, e.A, e.B)
}

func (e *FormatMismatchError) Is(target error) bool {
	return target == ErrFormatMismatch
}

// MeasurementMismatchError is returned if the registers of two comparable
// measurements differ. Index is -1 if the number of registers differs.
type MeasurementMismatchError struct {
	Index    int
	Expected string
	Got      string
}

func (e *MeasurementMismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: register count %v, expected %v", ErrMeasurementMismatch, e.Got, e.Expected)
	}
	return fmt.Sprintf("%v: register %d is %v, expected %v", ErrMeasurementMismatch, e.Index, e.Got, e.Expected)
}

func (e *MeasurementMismatchError) Is(target error) bool {
	return target == ErrMeasurementMismatch
}

// IsSnpCompatible reports whether the predicate type belongs to the SEV-SNP family
func IsSnpCompatible(predicateType string) bool {
	return slices.Contains(snpCompatible, predicateType)
}

// Compare checks that b describes the same measurement as a. The types must
// be equal or both SEV-SNP compatible, and all registers must match in order.
func Compare(a, b *AttestationMeasurement) error {
	if a == nil || b == nil {
		return errors.New("cannot compare nil measurement")
	}

	if a.Type != b.Type && !(IsSnpCompatible(a.Type) && IsSnpCompatible(b.Type)) {
		return &FormatMismatchError{A: a.Type, B: b.Type}
	}

	if len(a.Registers) != len(b.Registers) {
		return &MeasurementMismatchError{
			Index:    -1,
			Expected: fmt.Sprint(len(a.Registers)),
			Got:      fmt.Sprint(len(b.Registers)),
		}
	}
	for i := range a.Registers {
		if a.Registers[i] != b.Registers[i] {
			return &MeasurementMismatchError{
				Index:    i,
				Expected: a.Registers[i],
				Got:      b.Registers[i],
			}
		}
	}

	return nil
}

// Fingerprint returns a single digest identifying the measurement. A single
// register is returned unchanged, otherwise the hex encoded SHA-256 over the
// type and all registers.
func Fingerprint(m *AttestationMeasurement) string {
	if len(m.Registers) == 1 {
		return m.Registers[0]
	}

	h := sha256.New()
	h.Write([]byte(m.Type))
	for _, r := range m.Registers {
		h.Write([]byte(r))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *AttestationMeasurement) String() string {
	return fmt.Sprintf("%v %v", m.Type, m.Registers)
}
