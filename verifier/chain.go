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
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/go-sev-guest/abi"
	"github.com/google/go-sev-guest/verify/trust"

	"github.com/Fraunhofer-AISEC/snpverify/internal"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

// SupportedProduct is the only product whose reports are accepted
const SupportedProduct = snp.ProductGenoa

const (
	vcekCommonName    = "SEV-VCEK"
	vcekSignatureAlgo = x509.SHA384WithRSAPSS
)

func arkCommonName(product string) string {
	return "ARK-" + product
}

func askCommonName(product string) string {
	return "SEV-" + product
}

// VcekGetter retrieves the DER or PEM encoded VCEK for a chip at a TCB
type VcekGetter interface {
	GetVcek(ctx context.Context, product string, chipId []byte, reportedTcb uint64) ([]byte, error)
}

// StaticVcek serves a fixed VCEK, e.g. one provided alongside the report
type StaticVcek []byte

func (s StaticVcek) GetVcek(_ context.Context, _ string, _ []byte, _ uint64) ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("no VCEK provided")
	}
	return s, nil
}

// Roots are the trusted AMD root (ARK) and intermediate (ASK) certificates
type Roots struct {
	Ark *x509.Certificate
	Ask *x509.Certificate
}

// ParseRoots parses PEM or DER encoded ARK and ASK certificates
func ParseRoots(p Platform, ark, ask []byte) (*Roots, error) {
	arkCert, err := p.ParseCertificate(ark)
	if err != nil {
		return nil, &ChainValidationError{Link: LinkArk, Reason: FailParse, Err: err}
	}
	askCert, err := p.ParseCertificate(ask)
	if err != nil {
		return nil, &ChainValidationError{Link: LinkAsk, Reason: FailParse, Err: err}
	}
	return &Roots{Ark: arkCert, Ask: askCert}, nil
}

// FetchRoots retrieves the production ARK and ASK of the supported product
// from the AMD key distribution service. The chain is cached for the lifetime
// of the process. The ARK is only trusted after ValidateChain, which should be
// combined with ChainOptions.ArkFingerprints.
func FetchRoots(getter trust.HTTPSGetter) (*Roots, error) {
	certs, err := trust.GetProductChain(SupportedProduct, abi.VcekReportSigner, getter)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AMD %v certificate chain: %w", SupportedProduct, err)
	}
	return &Roots{Ark: certs.Ark, Ask: certs.Ask}, nil
}

// ChainOptions configure a ChainValidator
type ChainOptions struct {
	// Platform defaults to NativePlatform
	Platform Platform
	// Roots are the trusted ARK and ASK and are required
	Roots *Roots
	// Now defaults to time.Now
	Now func() time.Time
	// Fetcher retrieves the VCEK for a report and is required
	Fetcher VcekGetter
	// Crl is an optional ARK-issued revocation list the ASK is checked against
	Crl *x509.RevocationList
	// ArkFingerprints optionally pins the ARK to one of the given hex encoded
	// SHA-256 certificate fingerprints
	ArkFingerprints []string
}

// CertificateChain is a validated ARK, ASK and VCEK chain
type CertificateChain struct {
	Ark  *x509.Certificate
	Ask  *x509.Certificate
	Vcek *x509.Certificate
}

// ChainValidator establishes the trust chain from the AMD root to the VCEK
// that signed a report
type ChainValidator struct {
	platform        Platform
	roots           *Roots
	now             func() time.Time
	fetcher         VcekGetter
	crl             *x509.RevocationList
	arkFingerprints []string
}

func NewChainValidator(opts ChainOptions) (*ChainValidator, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("no VCEK fetcher configured")
	}
	v := &ChainValidator{
		platform:        opts.Platform,
		roots:           opts.Roots,
		now:             opts.Now,
		fetcher:         opts.Fetcher,
		crl:             opts.Crl,
		arkFingerprints: opts.ArkFingerprints,
	}
	if v.platform == nil {
		v.platform = NativePlatform{}
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.roots == nil || v.roots.Ark == nil || v.roots.Ask == nil {
		return nil, errors.New("incomplete trusted roots")
	}
	return v, nil
}

// Platform returns the cryptographic platform of the validator
func (v *ChainValidator) Platform() Platform {
	return v.platform
}

// ValidateChain fetches the VCEK for the report and validates the chain from
// the trusted ARK to the VCEK. It does not check that the VCEK matches the
// TCB and chip of the report, see ValidateReportBinding.
func (v *ChainValidator) ValidateChain(ctx context.Context, report *snp.AttestationReport) (*CertificateChain, error) {

	product := report.Product.Name
	if product != SupportedProduct {
		return nil, chainErr(LinkReport, FailProduct, "unsupported product %v, only %v is supported",
			product, SupportedProduct)
	}
	if report.SignerInfo.SigningKey != internal.VCEK {
		return nil, chainErr(LinkReport, FailSigner, "unsupported signing key %v, only %v is supported",
			report.SignerInfo.SigningKey, internal.VCEK)
	}

	log.Debugf("Fetching VCEK for %v chip %v reported TCB 0x%016x", product,
		hex.EncodeToString(report.ChipId), report.ReportedTcb)
	raw, err := v.fetcher.GetVcek(ctx, product, report.ChipId, report.ReportedTcb)
	if err != nil {
		return nil, &ChainValidationError{Link: LinkVcek, Reason: FailFetch, Err: err}
	}
	vcek, err := v.platform.ParseCertificate(raw)
	if err != nil {
		return nil, &ChainValidationError{Link: LinkVcek, Reason: FailParse, Err: err}
	}

	chain := &CertificateChain{
		Ark:  v.roots.Ark,
		Ask:  v.roots.Ask,
		Vcek: vcek,
	}

	if err := v.checkNames(chain, product); err != nil {
		return nil, err
	}
	if err := v.checkValidity(chain); err != nil {
		return nil, err
	}
	if err := v.checkSignatures(chain); err != nil {
		return nil, err
	}
	if err := v.checkVcek(vcek, product); err != nil {
		return nil, err
	}
	if err := v.checkArkFingerprint(chain.Ark); err != nil {
		return nil, err
	}
	if v.crl != nil {
		if err := internal.CheckRevocation(v.crl, chain.Ask, chain.Ark, v.now()); err != nil {
			return nil, &ChainValidationError{Link: LinkAsk, Reason: FailRevoked, Err: err}
		}
		log.Debug("ASK is not revoked")
	}

	log.Debugf("Successfully verified %v certificate chain", product)

	return chain, nil
}

func (v *ChainValidator) checkNames(chain *CertificateChain, product string) error {
	for _, c := range []struct {
		link    ChainLink
		cert    *x509.Certificate
		subject string
		issuer  string
	}{
		{LinkArk, chain.Ark, arkCommonName(product), arkCommonName(product)},
		{LinkAsk, chain.Ask, askCommonName(product), arkCommonName(product)},
		{LinkVcek, chain.Vcek, vcekCommonName, askCommonName(product)},
	} {
		if err := internal.CheckAmdName(c.cert.Subject, string(c.link)+" subject", c.subject); err != nil {
			return &ChainValidationError{Link: c.link, Reason: FailName, Err: err}
		}
		if err := internal.CheckAmdName(c.cert.Issuer, string(c.link)+" issuer", c.issuer); err != nil {
			return &ChainValidationError{Link: c.link, Reason: FailName, Err: err}
		}
	}
	return nil
}

func (v *ChainValidator) checkValidity(chain *CertificateChain) error {
	now := v.now()
	for _, c := range []struct {
		link ChainLink
		cert *x509.Certificate
	}{
		{LinkArk, chain.Ark},
		{LinkAsk, chain.Ask},
		{LinkVcek, chain.Vcek},
	} {
		if err := internal.CheckValidity(c.cert, now); err != nil {
			return &ChainValidationError{Link: c.link, Reason: FailValidity, Err: err}
		}
	}
	return nil
}

func (v *ChainValidator) checkSignatures(chain *CertificateChain) error {
	if err := checkSignedBy(v.platform, chain.Ark, chain.Ark); err != nil {
		return chainErr(LinkArk, FailSignature, "ARK is not self-signed: %w", err)
	}
	if err := checkSignedBy(v.platform, chain.Ask, chain.Ark); err != nil {
		return chainErr(LinkAsk, FailSignature, "ASK is not signed by ARK: %w", err)
	}
	if err := checkSignedBy(v.platform, chain.Vcek, chain.Ask); err != nil {
		return chainErr(LinkVcek, FailSignature, "VCEK is not signed by ASK: %w", err)
	}
	return nil
}

func (v *ChainValidator) checkVcek(vcek *x509.Certificate, product string) error {
	if vcek.SignatureAlgorithm != vcekSignatureAlgo {
		return chainErr(LinkVcek, FailAlgorithm, "unsupported signature algorithm %v, expected %v",
			vcek.SignatureAlgorithm, vcekSignatureAlgo)
	}
	pub, ok := vcek.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return chainErr(LinkVcek, FailKey, "unsupported public key type %T, expected ECDSA", vcek.PublicKey)
	}
	if pub.Curve != elliptic.P384() {
		return chainErr(LinkVcek, FailKey, "unsupported curve %v, expected P-384", pub.Curve.Params().Name)
	}
	if err := checkVcekExtensions(vcek, product); err != nil {
		return &ChainValidationError{Link: LinkVcek, Reason: FailExtension, Err: err}
	}
	return nil
}

func (v *ChainValidator) checkArkFingerprint(ark *x509.Certificate) error {
	if len(v.arkFingerprints) == 0 {
		return nil
	}
	d, err := v.platform.Digest(crypto.SHA256, ark.Raw)
	if err != nil {
		return &ChainValidationError{Link: LinkArk, Reason: FailPinning, Err: err}
	}
	fp := hex.EncodeToString(d)
	if !slices.ContainsFunc(v.arkFingerprints, func(s string) bool {
		return strings.EqualFold(s, fp)
	}) {
		return chainErr(LinkArk, FailPinning, "ARK fingerprint %v does not match any trusted fingerprint", fp)
	}
	log.Tracef("ARK fingerprint %v matches trusted fingerprint", fp)
	return nil
}
