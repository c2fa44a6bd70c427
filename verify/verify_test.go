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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fraunhofer-AISEC/snpverify/document"
	"github.com/Fraunhofer-AISEC/snpverify/internal/fixtures"
	"github.com/Fraunhofer-AISEC/snpverify/measurement"
	"github.com/Fraunhofer-AISEC/snpverify/provenance"
	"github.com/Fraunhofer-AISEC/snpverify/provision"
	"github.com/Fraunhofer-AISEC/snpverify/verifier"
)

const (
	testRepo    = "tinfoilsh/confidential-inference"
	testEnclave = "inference.tinfoil.sh"
	testTag     = "v0.1.3"
	testDigest  = "6b86b273ff34fce19d6b804eff5a3f5747ada4eaa22f1d49c01e52ddb7875b4b"
)

type fakeDigests struct {
	err error
}

func (f *fakeDigests) FetchDigest(_ context.Context, _ string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return testTag, testDigest, nil
}

type fakeBundles struct {
	err error
}

func (f *fakeBundles) FetchBundle(_ context.Context, _, _ string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`{}`), nil
}

type fakeAttestations struct {
	report []byte
	err    error
}

func (f *fakeAttestations) FetchAttestation(_ context.Context, _ string) (*verifier.AttestationDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return verifier.NewAttestationDocument(measurement.SevGuestV2, f.report)
}

type fakeCode struct {
	m   *measurement.AttestationMeasurement
	err error
}

func (f *fakeCode) Verify(_ []byte, digest, _ string) (*measurement.AttestationMeasurement, error) {
	if f.err != nil {
		return nil, f.err
	}
	if digest != testDigest {
		return nil, errors.New("unexpected digest")
	}
	return f.m, nil
}

type vcekFetcher struct {
	err error
}

func (f *vcekFetcher) FetchVcek(_ context.Context, _ string, _ []byte, _ uint64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return fixtures.VcekDer, nil
}

func codeMeasurement() *measurement.AttestationMeasurement {
	return &measurement.AttestationMeasurement{
		Type:      measurement.SevGuestV1,
		Registers: []string{fixtures.Measurement},
	}
}

func enclaveVerifier(t *testing.T, fetcher provision.VcekFetcher) *verifier.EnclaveVerifier {
	roots, err := verifier.ParseRoots(verifier.NativePlatform{}, fixtures.ArkPem, fixtures.AskPem)
	require.NoError(t, err)

	chain, err := verifier.NewChainValidator(verifier.ChainOptions{
		Roots:   roots,
		Now:     fixtures.Now,
		Fetcher: provision.NewVcekProvider(fetcher, nil),
	})
	require.NoError(t, err)

	v, err := verifier.NewEnclaveVerifier(chain, nil)
	require.NoError(t, err)
	return v
}

func testConfig(t *testing.T) Config {
	return Config{
		Repo:         testRepo,
		Enclave:      testEnclave,
		Digests:      &fakeDigests{},
		Bundles:      &fakeBundles{},
		Attestations: &fakeAttestations{report: fixtures.Report},
		Enclaves:     enclaveVerifier(t, &vcekFetcher{}),
		Code:         &fakeCode{m: codeMeasurement()},
	}
}

func testVerifier(t *testing.T, cfg Config) *Verifier {
	v, err := New(cfg)
	require.NoError(t, err)
	return v
}

func TestVerify(t *testing.T) {
	v := testVerifier(t, testConfig(t))
	assert.Nil(t, v.Document())

	doc, err := v.Verify(context.Background())
	require.NoError(t, err)

	assert.True(t, doc.SecurityVerified)
	assert.Same(t, doc, v.Document())
	assert.Equal(t, testRepo, doc.ConfigRepo)
	assert.Equal(t, testEnclave, doc.EnclaveHost)
	assert.Equal(t, testTag, doc.ReleaseTag)
	assert.Equal(t, testDigest, doc.ReleaseDigest)
	assert.Equal(t, codeMeasurement(), doc.CodeMeasurement)
	assert.Equal(t, measurement.SevGuestV2, doc.EnclaveMeasurement.Type)
	assert.Equal(t, []string{fixtures.Measurement}, doc.EnclaveMeasurement.Registers)
	assert.Equal(t, fixtures.Measurement, doc.CodeFingerprint)
	assert.Equal(t, fixtures.Measurement, doc.EnclaveFingerprint)
	assert.Equal(t, fixtures.TlsKeyFp, doc.TlsPublicKey)
	assert.Equal(t, fixtures.HpkeKey, doc.HpkePublicKey)

	for _, s := range []document.Step{
		doc.Steps.FetchDigest, doc.Steps.VerifyCode, doc.Steps.VerifyEnclave, doc.Steps.CompareMeasurements,
	} {
		assert.Equal(t, document.StatusSuccess, s.Status)
		assert.Empty(t, s.Error)
	}
}

func TestVerifyFailures(t *testing.T) {
	tampered := append([]byte(nil), fixtures.Report...)
	tampered[0x90] ^= 0xff

	transport := &provision.TransportError{Url: "https://example.com", StatusCode: 503, Err: errors.New("unavailable")}

	tests := []struct {
		name     string
		modify   func(t *testing.T, cfg *Config)
		step     string
		kind     document.ErrorKind
		pending  []func(d *document.VerificationDocument) document.Step
		withBoth bool
	}{
		{
			name:   "Digest Unavailable",
			modify: func(_ *testing.T, cfg *Config) { cfg.Digests = &fakeDigests{err: transport} },
			step:   "fetchDigest",
			kind:   document.KindTransport,
			pending: []func(d *document.VerificationDocument) document.Step{
				func(d *document.VerificationDocument) document.Step { return d.Steps.VerifyCode },
				func(d *document.VerificationDocument) document.Step { return d.Steps.CompareMeasurements },
			},
		},
		{
			name:   "Bundle Unavailable",
			modify: func(_ *testing.T, cfg *Config) { cfg.Bundles = &fakeBundles{err: transport} },
			step:   "verifyCode",
			kind:   document.KindTransport,
		},
		{
			name: "Provenance Invalid",
			modify: func(_ *testing.T, cfg *Config) {
				cfg.Code = &fakeCode{err: &provenance.ProvenanceError{Check: provenance.CheckDigest, Err: errors.New("digest mismatch")}}
			},
			step: "verifyCode",
			kind: document.KindProvenance,
		},
		{
			name:   "Attestation Unavailable",
			modify: func(_ *testing.T, cfg *Config) { cfg.Attestations = &fakeAttestations{err: transport} },
			step:   "verifyEnclave",
			kind:   document.KindTransport,
		},
		{
			name:   "VCEK Unavailable",
			modify: func(t *testing.T, cfg *Config) { cfg.Enclaves = enclaveVerifier(t, &vcekFetcher{err: transport}) },
			step:   "verifyEnclave",
			kind:   document.KindTransport,
		},
		{
			name:   "Report Truncated",
			modify: func(_ *testing.T, cfg *Config) { cfg.Attestations = &fakeAttestations{report: fixtures.Report[:0x100]} },
			step:   "verifyEnclave",
			kind:   document.KindParse,
		},
		{
			name:   "Report Tampered",
			modify: func(_ *testing.T, cfg *Config) { cfg.Attestations = &fakeAttestations{report: tampered} },
			step:   "verifyEnclave",
			kind:   document.KindSignature,
		},
		{
			name: "Measurement Mismatch",
			modify: func(_ *testing.T, cfg *Config) {
				m := codeMeasurement()
				m.Registers = []string{"00" + fixtures.Measurement[2:]}
				cfg.Code = &fakeCode{m: m}
			},
			step:     "compareMeasurements",
			kind:     document.KindMeasurementMismatch,
			withBoth: true,
		},
		{
			name: "Format Mismatch",
			modify: func(_ *testing.T, cfg *Config) {
				m := codeMeasurement()
				m.Type = measurement.TdxGuestV1
				cfg.Code = &fakeCode{m: m}
			},
			step:     "compareMeasurements",
			kind:     document.KindFormatMismatch,
			withBoth: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(t, &cfg)
			v := testVerifier(t, cfg)

			doc, err := v.Verify(context.Background())

			var serr *StepError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.step, serr.Step)
			assert.Equal(t, tt.kind, Classify(err))

			require.NotNil(t, doc)
			assert.Same(t, doc, v.Document())
			assert.False(t, doc.SecurityVerified)

			name, failed := doc.Failed()
			assert.True(t, failed)
			assert.Equal(t, tt.step, name)

			for _, p := range tt.pending {
				assert.Equal(t, document.StatusPending, p(doc).Status)
			}
			if tt.withBoth {
				assert.NotNil(t, doc.CodeMeasurement)
				assert.NotNil(t, doc.EnclaveMeasurement)
				assert.NotEmpty(t, doc.CodeFingerprint)
				assert.NotEmpty(t, doc.TlsPublicKey)
			} else {
				assert.Equal(t, document.StatusPending, doc.Steps.CompareMeasurements.Status)
			}
		})
	}
}

func TestVerifyFailedStepRecord(t *testing.T) {
	cfg := testConfig(t)
	cfg.Code = &fakeCode{err: &provenance.ProvenanceError{Check: provenance.CheckIssuer, Err: errors.New("wrong issuer")}}
	v := testVerifier(t, cfg)

	doc, err := v.Verify(context.Background())
	require.Error(t, err)

	assert.Equal(t, document.StatusSuccess, doc.Steps.FetchDigest.Status)
	assert.Equal(t, document.StatusFailed, doc.Steps.VerifyCode.Status)
	assert.Equal(t, document.KindProvenance, doc.Steps.VerifyCode.Kind)
	assert.Contains(t, doc.Steps.VerifyCode.Error, "wrong issuer")
	assert.Empty(t, doc.CodeMeasurement)
	assert.Empty(t, doc.CodeFingerprint)
}

func TestVerifyAgain(t *testing.T) {
	cfg := testConfig(t)
	digests := &fakeDigests{err: errors.New("rate limited")}
	cfg.Digests = digests
	v := testVerifier(t, cfg)

	failed, err := v.Verify(context.Background())
	require.Error(t, err)
	assert.False(t, v.Document().SecurityVerified)

	digests.err = nil
	doc, err := v.Verify(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, failed, doc)
	assert.Same(t, doc, v.Document())
	assert.True(t, v.Document().SecurityVerified)
	assert.Equal(t, document.StatusFailed, failed.Steps.FetchDigest.Status)
	assert.Equal(t, document.KindInternal, failed.Steps.FetchDigest.Kind)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
	}{
		{"Missing Repo", func(cfg *Config) { cfg.Repo = "" }},
		{"Missing Enclave", func(cfg *Config) { cfg.Enclave = "" }},
		{"Missing Code Verifier", func(cfg *Config) { cfg.Code = nil }},
		{"Missing Enclave Verifier", func(cfg *Config) { cfg.Enclaves = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, document.KindInternal, Classify(errors.New("other")))
	assert.Equal(t, document.KindFormatMismatch, Classify(&measurement.FormatMismatchError{A: "a", B: "b"}))
	assert.Equal(t, document.KindMeasurementMismatch, Classify(&measurement.MeasurementMismatchError{Index: 0}))
	assert.Equal(t, document.KindPolicy, Classify(&verifier.PolicyViolationError{Kind: verifier.ViolationMismatch}))
	assert.Equal(t, document.KindChain, Classify(&verifier.ChainValidationError{Link: verifier.LinkVcek, Reason: verifier.FailSignature}))
	// Transport errors wrapped by chain errors are reported as transport errors
	assert.Equal(t, document.KindTransport, Classify(&verifier.ChainValidationError{
		Link: verifier.LinkVcek, Reason: verifier.FailFetch, Err: &provision.TransportError{Err: errors.New("x")},
	}))
}
