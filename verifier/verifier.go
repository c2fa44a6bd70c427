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

// Package verifier establishes trust in SEV-SNP attestation reports: it
// validates the AMD certificate chain, the report signature and the report
// fields against a policy and yields the hardware measurement.
package verifier

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/snpverify/measurement"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

var log = logrus.WithField("service", "verifier")

// Offsets of the enclave public key material within the report data
const (
	tlsKeyFpSize = 32
	hpkeKeySize  = 32
)

// EnclaveVerification is the result of a successfully verified enclave
type EnclaveVerification struct {
	Measurement *measurement.AttestationMeasurement
	// TlsPublicKeyFp is the hex encoded fingerprint of the enclave TLS key
	TlsPublicKeyFp string
	// HpkePublicKey is the hex encoded HPKE public key of the enclave
	HpkePublicKey string
	Report        *snp.AttestationReport
	Chain         *CertificateChain
}

// EnclaveVerifier runs the full hardware verification of an attestation
type EnclaveVerifier struct {
	chain  *ChainValidator
	policy *ReportPolicy
}

// NewEnclaveVerifier returns a verifier checking reports against the policy,
// or DefaultReportPolicy if policy is nil
func NewEnclaveVerifier(chain *ChainValidator, policy *ReportPolicy) (*EnclaveVerifier, error) {
	if chain == nil {
		return nil, errors.New("no chain validator configured")
	}
	if policy == nil {
		policy = DefaultReportPolicy()
	}
	return &EnclaveVerifier{
		chain:  chain,
		policy: policy,
	}, nil
}

// VerifyEnclave decodes and verifies the report contained in an attestation
// document
func (v *EnclaveVerifier) VerifyEnclave(ctx context.Context, doc *AttestationDocument) (*EnclaveVerification, error) {
	if doc == nil {
		return nil, errors.New("attestation document is nil")
	}
	raw, err := doc.Report()
	if err != nil {
		return nil, err
	}
	return v.VerifyReport(ctx, raw, doc.Format)
}

// VerifyReport parses and verifies a raw report. The format is the predicate
// type the resulting measurement is tagged with.
func (v *EnclaveVerifier) VerifyReport(ctx context.Context, raw []byte, format string) (*EnclaveVerification, error) {

	log.Debug("Verifying SNP report")

	report, err := snp.Parse(raw)
	if err != nil {
		return nil, err
	}

	chain, err := v.chain.ValidateChain(ctx, report)
	if err != nil {
		return nil, err
	}

	if err := VerifyReportSignature(v.chain.Platform(), report, chain.Vcek); err != nil {
		return nil, err
	}

	if err := ValidateReportBinding(chain.Vcek, report); err != nil {
		return nil, err
	}

	if err := ValidateReport(report, v.policy); err != nil {
		return nil, err
	}

	m := &measurement.AttestationMeasurement{
		Type:      format,
		Registers: []string{hex.EncodeToString(report.Measurement)},
	}

	log.Debugf("Successfully verified SNP report with measurement %v", m.Registers[0])

	return &EnclaveVerification{
		Measurement:    m,
		TlsPublicKeyFp: hex.EncodeToString(report.ReportData[:tlsKeyFpSize]),
		HpkePublicKey:  hex.EncodeToString(report.ReportData[tlsKeyFpSize : tlsKeyFpSize+hpkeKeySize]),
		Report:         report,
		Chain:          chain,
	}, nil
}
