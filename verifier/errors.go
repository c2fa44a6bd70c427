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

package verifier

import (
	"fmt"
)

// ChainLink identifies the element of the trust chain a check failed on
type ChainLink string

const (
	LinkReport ChainLink = "report"
	LinkArk    ChainLink = "ark"
	LinkAsk    ChainLink = "ask"
	LinkVcek   ChainLink = "vcek"
)

// ChainFailure classifies why the certificate chain was rejected
type ChainFailure string

const (
	FailProduct   ChainFailure = "unsupported product"
	FailSigner    ChainFailure = "unsupported signer"
	FailFetch     ChainFailure = "fetch"
	FailParse     ChainFailure = "parse"
	FailName      ChainFailure = "name"
	FailValidity  ChainFailure = "validity"
	FailSignature ChainFailure = "signature"
	FailAlgorithm ChainFailure = "signature algorithm"
	FailKey       ChainFailure = "public key"
	FailExtension ChainFailure = "extension"
	FailRevoked   ChainFailure = "revoked"
	FailPinning   ChainFailure = "root fingerprint"
	FailBinding   ChainFailure = "report binding"
)

// ChainValidationError is returned if the ARK, ASK or VCEK could not be
// validated or the VCEK does not belong to the report
type ChainValidationError struct {
	Link   ChainLink
	Reason ChainFailure
	Err    error
}

func (e *ChainValidationError) Error() string {
	return fmt.Sprintf("certificate chain validation failed (%v, %v): %v", e.Link, e.Reason, e.Err)
}

func (e *ChainValidationError) Unwrap() error {
	return e.Err
}

func chainErr(link ChainLink, reason ChainFailure, format string, args ...any) *ChainValidationError {
	return &ChainValidationError{
		Link:   link,
		Reason: reason,
		Err:    fmt.Errorf(format, args...),
	}
}

// PolicyViolationKind classifies report policy violations
type PolicyViolationKind string

const (
	// The report enables a capability the policy does not authorize
	ViolationUnauthorized PolicyViolationKind = "unauthorized"
	// The policy requires a feature or restriction the report lacks
	ViolationMissingRequired PolicyViolationKind = "missingRequired"
	ViolationOutOfRange      PolicyViolationKind = "outOfRange"
	ViolationBelowMinimum    PolicyViolationKind = "belowMinimum"
	ViolationMismatch        PolicyViolationKind = "mismatch"
	ViolationProvisional     PolicyViolationKind = "provisional"
	ViolationUnsupported     PolicyViolationKind = "unsupported"
	ViolationInvalidPolicy   PolicyViolationKind = "invalidPolicy"
)

// PolicyViolationError is returned if a report does not satisfy a ReportPolicy
type PolicyViolationError struct {
	Kind  PolicyViolationKind
	Field string
	Err   error
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("report policy violation (%v, %v): %v", e.Kind, e.Field, e.Err)
}

func (e *PolicyViolationError) Unwrap() error {
	return e.Err
}

func violation(kind PolicyViolationKind, field string, format string, args ...any) *PolicyViolationError {
	return &PolicyViolationError{
		Kind:  kind,
		Field: field,
		Err:   fmt.Errorf(format, args...),
	}
}

// SignatureVerificationError is returned if the report signature is invalid
// or cannot be verified
type SignatureVerificationError struct {
	Reason string
	Err    error
}

func (e *SignatureVerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("report signature verification failed: %v", e.Reason)
	}
	return fmt.Sprintf("report signature verification failed: %v: %v", e.Reason, e.Err)
}

func (e *SignatureVerificationError) Unwrap() error {
	return e.Err
}
