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

package verify

import (
	"errors"

	"github.com/Fraunhofer-AISEC/snpverify/document"
	"github.com/Fraunhofer-AISEC/snpverify/measurement"
	"github.com/Fraunhofer-AISEC/snpverify/provenance"
	"github.com/Fraunhofer-AISEC/snpverify/provision"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
	"github.com/Fraunhofer-AISEC/snpverify/verifier"
)

// Classify returns the document error kind of a step error. Transport
// errors take precedence as they are wrapped by the check that triggered
// the request.
func Classify(err error) document.ErrorKind {
	var (
		transportErr  *provision.TransportError
		parseErr      *snp.ParseError
		chainErr      *verifier.ChainValidationError
		policyErr     *verifier.PolicyViolationError
		signatureErr  *verifier.SignatureVerificationError
		provenanceErr *provenance.ProvenanceError
	)
	switch {
	case errors.As(err, &transportErr):
		return document.KindTransport
	case errors.As(err, &parseErr):
		return document.KindParse
	case errors.As(err, &chainErr):
		return document.KindChain
	case errors.As(err, &policyErr):
		return document.KindPolicy
	case errors.As(err, &signatureErr):
		return document.KindSignature
	case errors.As(err, &provenanceErr):
		return document.KindProvenance
	case errors.Is(err, measurement.ErrFormatMismatch):
		return document.KindFormatMismatch
	case errors.Is(err, measurement.ErrMeasurementMismatch):
		return document.KindMeasurementMismatch
	default:
		return document.KindInternal
	}
}
