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

// Package document defines the verification document, the externally
// consumed result of a verification, and its signed serializations.
package document

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/snpverify/measurement"
)

var log = logrus.WithField("service", "document")

type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
)

// ErrorKind classifies the error of a failed step
type ErrorKind string

const (
	KindParse               ErrorKind = "parse"
	KindChain               ErrorKind = "chain"
	KindPolicy              ErrorKind = "policy"
	KindSignature           ErrorKind = "signature"
	KindProvenance          ErrorKind = "provenance"
	KindFormatMismatch      ErrorKind = "formatMismatch"
	KindMeasurementMismatch ErrorKind = "measurementMismatch"
	KindTransport           ErrorKind = "transport"
	KindInternal            ErrorKind = "internal"
)

type Step struct {
	Status StepStatus `json:"status" cbor:"0,keyasint"`
	Error  string     `json:"error,omitempty" cbor:"1,keyasint,omitempty"`
	Kind   ErrorKind  `json:"kind,omitempty" cbor:"2,keyasint,omitempty"`
}

// Steps records the status of each stage of a verification
type Steps struct {
	FetchDigest         Step `json:"fetchDigest" cbor:"0,keyasint"`
	VerifyCode          Step `json:"verifyCode" cbor:"1,keyasint"`
	VerifyEnclave       Step `json:"verifyEnclave" cbor:"2,keyasint"`
	CompareMeasurements Step `json:"compareMeasurements" cbor:"3,keyasint"`
}

// VerificationDocument is the result of a verification. A document is
// produced for failed verifications as well, with SecurityVerified unset.
type VerificationDocument struct {
	ConfigRepo         string                              `json:"configRepo" cbor:"0,keyasint"`
	EnclaveHost        string                              `json:"enclaveHost" cbor:"1,keyasint"`
	ReleaseTag         string                              `json:"releaseTag,omitempty" cbor:"2,keyasint,omitempty"`
	ReleaseDigest      string                              `json:"releaseDigest" cbor:"3,keyasint"`
	CodeMeasurement    *measurement.AttestationMeasurement `json:"codeMeasurement,omitempty" cbor:"4,keyasint,omitempty"`
	EnclaveMeasurement *measurement.AttestationMeasurement `json:"enclaveMeasurement,omitempty" cbor:"5,keyasint,omitempty"`
	CodeFingerprint    string                              `json:"codeFingerprint" cbor:"6,keyasint"`
	EnclaveFingerprint string                              `json:"enclaveFingerprint" cbor:"7,keyasint"`
	TlsPublicKey       string                              `json:"tlsPublicKey" cbor:"8,keyasint"`
	HpkePublicKey      string                              `json:"hpkePublicKey" cbor:"9,keyasint"`
	SecurityVerified   bool                                `json:"securityVerified" cbor:"10,keyasint"`
	Steps              Steps                               `json:"steps" cbor:"11,keyasint"`
	Created            string                              `json:"created" cbor:"12,keyasint"`
}

// New returns a document with all steps pending
func New(repo, host string) *VerificationDocument {
	return &VerificationDocument{
		ConfigRepo:  repo,
		EnclaveHost: host,
		Steps: Steps{
			FetchDigest:         Step{Status: StatusPending},
			VerifyCode:          Step{Status: StatusPending},
			VerifyEnclave:       Step{Status: StatusPending},
			CompareMeasurements: Step{Status: StatusPending},
		},
		Created: time.Now().UTC().Format(time.RFC3339),
	}
}

// Failed returns the name of the first failed step, if any
func (d *VerificationDocument) Failed() (string, bool) {
	for _, s := range []struct {
		name string
		step Step
	}{
		{"fetchDigest", d.Steps.FetchDigest},
		{"verifyCode", d.Steps.VerifyCode},
		{"verifyEnclave", d.Steps.VerifyEnclave},
		{"compareMeasurements", d.Steps.CompareMeasurements},
	} {
		if s.step.Status == StatusFailed {
			return s.name, true
		}
	}
	return "", false
}
