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

package provenance

import (
	"fmt"
	"regexp"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/fulcio/certificate"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/verify"
)

// SigstoreVerifier verifies bundles against the sigstore public good
// instance: Fulcio certificate chain, Rekor inclusion and signed timestamps
type SigstoreVerifier struct {
	verifier *verify.Verifier
}

// NewSigstoreVerifier creates a verifier from a trusted root in JSON format.
// If no trusted root is given, it is fetched through sigstore's TUF repository
func NewSigstoreVerifier(trustedRoot []byte) (*SigstoreVerifier, error) {
	var tr *root.TrustedRoot
	var err error
	if len(trustedRoot) == 0 {
		log.Debug("Fetching sigstore trusted root via TUF")
		tr, err = root.FetchTrustedRoot()
	} else {
		tr, err = root.NewTrustedRootFromJSON(trustedRoot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sigstore trusted root: %w", err)
	}

	v, err := verify.NewVerifier(tr,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create sigstore verifier: %w", err)
	}

	return &SigstoreVerifier{verifier: v}, nil
}

// VerifyBundle implements BundleVerifier
func (s *SigstoreVerifier) VerifyBundle(data []byte, digest, repo string) (*VerifiedBundle, error) {

	var b bundle.Bundle
	if err := b.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to parse sigstore bundle: %w", err)
	}

	d, err := decodeDigest(digest)
	if err != nil {
		return nil, err
	}

	identity, err := verify.NewShortCertificateIdentity(OidcIssuer, "", "", sanRegex(repo))
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate identity: %w", err)
	}

	result, err := s.verifier.Verify(&b, verify.NewPolicy(
		verify.WithArtifactDigest("sha256", d),
		verify.WithCertificateIdentity(identity)))
	if err != nil {
		return nil, fmt.Errorf("failed to verify sigstore bundle: %w", err)
	}
	if result.Signature == nil || result.Signature.Certificate == nil {
		return nil, fmt.Errorf("bundle is not signed with a Fulcio certificate")
	}

	env, err := b.Envelope()
	if err != nil {
		return nil, fmt.Errorf("bundle does not contain a DSSE envelope: %w", err)
	}
	payload, err := env.DecodeB64Payload()
	if err != nil {
		return nil, fmt.Errorf("failed to decode DSSE payload: %w", err)
	}

	cert := result.Signature.Certificate

	return &VerifiedBundle{
		Issuer:      cert.Issuer,
		Repository:  cert.GithubWorkflowRepository,
		SignerUri:   signerUri(cert),
		PayloadType: env.PayloadType,
		Payload:     payload,
	}, nil
}

// sanRegex matches the certificate SAN of workflows of repo loaded from a tag
func sanRegex(repo string) string {
	return fmt.Sprintf(`^https://github\.com/%v/\.github/workflows/[^@]+@refs/tags/.+$`, regexp.QuoteMeta(repo))
}

// signerUri returns the URI of the workflow that requested the certificate.
// The source repository ref is the ref that triggered the run and is not
// used, since a tag push may call a workflow loaded from a branch.
func signerUri(cert *certificate.Summary) string {
	if cert.BuildSignerURI != "" {
		return cert.BuildSignerURI
	}
	return cert.SubjectAlternativeName
}
