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

// Package provenance verifies that a release digest was built and signed by
// a tagged GitHub Actions workflow of the expected repository and extracts
// the measurement recorded in the build attestation.
package provenance

import (
	"encoding/hex"
	"fmt"
	"strings"

	in_toto "github.com/in-toto/attestation/go/v1"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/Fraunhofer-AISEC/snpverify/measurement"
)

var log = logrus.WithField("service", "provenance")

const (
	// OidcIssuer is the only accepted issuer of signing certificates
	OidcIssuer = "https://token.actions.githubusercontent.com"
	// PayloadTypeInToto is the only accepted DSSE payload type
	PayloadTypeInToto = "application/vnd.in-toto+json"

	tagRefPrefix = "refs/tags/"
	digestSize   = 32
)

// VerifiedBundle holds the signer identity and the payload of a bundle
// whose signature and transparency log inclusion have been verified
type VerifiedBundle struct {
	Issuer      string
	Repository string
	// SignerUri is the URI of the signing workflow including the ref it
	// was loaded from, e.g. https://github.com/o/r/.github/workflows/x.yml@refs/tags/v1
	SignerUri   string
	PayloadType string
	Payload     []byte
}

// BundleVerifier verifies a serialized bundle for a sha256 artifact digest
// built in the given repository
type BundleVerifier interface {
	VerifyBundle(bundle []byte, digest, repo string) (*VerifiedBundle, error)
}

// Verifier checks the code provenance of a release
type Verifier struct {
	bundles BundleVerifier
}

func NewVerifier(bundles BundleVerifier) *Verifier {
	return &Verifier{bundles: bundles}
}

// Verify verifies the bundle for the hex encoded sha256 digest of a release
// of repo and returns the measurement recorded in its predicate
func (v *Verifier) Verify(bundle []byte, digest, repo string) (*measurement.AttestationMeasurement, error) {

	if _, err := decodeDigest(digest); err != nil {
		return nil, &ProvenanceError{Check: CheckInput, Err: err}
	}
	if repo == "" {
		return nil, provErr(CheckInput, "repository not specified")
	}

	log.Debugf("Verifying provenance of %v@sha256:%v", repo, digest)

	vb, err := v.bundles.VerifyBundle(bundle, digest, repo)
	if err != nil {
		return nil, &ProvenanceError{Check: CheckBundle, Err: err}
	}

	if err := checkIdentity(vb, repo); err != nil {
		return nil, err
	}

	if vb.PayloadType != PayloadTypeInToto {
		return nil, provErr(CheckPayloadType, "unsupported payload type %q, expected %q",
			vb.PayloadType, PayloadTypeInToto)
	}

	statement, err := decodeStatement(vb.Payload)
	if err != nil {
		return nil, &ProvenanceError{Check: CheckPayload, Err: err}
	}

	if err := checkSubject(statement, digest); err != nil {
		return nil, err
	}

	m, err := extractMeasurement(statement)
	if err != nil {
		return nil, &ProvenanceError{Check: CheckPredicate, Err: err}
	}

	log.Debugf("Verified provenance of %v: %v", repo, m)

	return m, nil
}

func decodeDigest(digest string) ([]byte, error) {
	d, err := hex.DecodeString(digest)
	if err != nil || len(d) != digestSize {
		return nil, fmt.Errorf("digest %q is not a hex encoded sha256 digest", digest)
	}
	return d, nil
}

func checkIdentity(vb *VerifiedBundle, repo string) error {
	if vb.Issuer != OidcIssuer {
		return provErr(CheckIssuer, "certificate issuer %q does not match expected %q", vb.Issuer, OidcIssuer)
	}
	if !strings.EqualFold(vb.Repository, repo) {
		return provErr(CheckRepository, "signer repository %q does not match expected %q", vb.Repository, repo)
	}
	prefix := fmt.Sprintf("https://github.com/%v/.github/workflows/", repo)
	if len(vb.SignerUri) < len(prefix) || !strings.EqualFold(vb.SignerUri[:len(prefix)], prefix) {
		return provErr(CheckRepository, "signing workflow %q is not a workflow of %q", vb.SignerUri, repo)
	}
	ref := workflowRef(vb.SignerUri)
	if !strings.HasPrefix(ref, tagRefPrefix) || len(ref) == len(tagRefPrefix) {
		return provErr(CheckWorkflowRef, "workflow ref %q is not a release tag", ref)
	}
	return nil
}

// workflowRef returns the git ref the workflow at a signer URI was loaded from
func workflowRef(signerUri string) string {
	i := strings.LastIndex(signerUri, "@")
	if i < 0 {
		return ""
	}
	return signerUri[i+1:]
}

func decodeStatement(payload []byte) (*in_toto.Statement, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	s := &in_toto.Statement{}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(payload, s); err != nil {
		return nil, fmt.Errorf("failed to decode in-toto statement: %w", err)
	}
	return s, nil
}

func checkSubject(s *in_toto.Statement, digest string) error {
	subjects := s.GetSubject()
	if len(subjects) == 0 {
		return provErr(CheckDigest, "statement has no subject")
	}
	got, ok := subjects[0].GetDigest()["sha256"]
	if !ok {
		return provErr(CheckDigest, "subject %q has no sha256 digest", subjects[0].GetName())
	}
	if !strings.EqualFold(got, digest) {
		return provErr(CheckDigest, "subject digest %v does not match expected digest %v", got, digest)
	}
	return nil
}

func extractMeasurement(s *in_toto.Statement) (*measurement.AttestationMeasurement, error) {
	var field string
	switch s.GetPredicateType() {
	case measurement.SevGuestV1, measurement.SevGuestV2:
		field = "measurement"
	case measurement.SnpTdxMultiPlatformV1:
		field = "snp_measurement"
	default:
		return nil, fmt.Errorf("unsupported predicate type %q", s.GetPredicateType())
	}

	v, ok := s.GetPredicate().GetFields()[field]
	if !ok {
		return nil, fmt.Errorf("predicate has no %v field", field)
	}
	register := v.GetStringValue()
	if register == "" {
		return nil, fmt.Errorf("predicate field %v is not a non-empty string", field)
	}
	if _, err := hex.DecodeString(register); err != nil {
		return nil, fmt.Errorf("predicate field %v is not hex encoded: %w", field, err)
	}

	return &measurement.AttestationMeasurement{
		Type:      s.GetPredicateType(),
		Registers: []string{strings.ToLower(register)},
	}, nil
}
