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

// Package verify orchestrates a complete verification: it fetches the
// release digest, verifies the code provenance of the release, verifies the
// enclave's hardware attestation and compares both measurements.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Fraunhofer-AISEC/snpverify/document"
	"github.com/Fraunhofer-AISEC/snpverify/measurement"
	"github.com/Fraunhofer-AISEC/snpverify/verifier"
)

var log = logrus.WithField("service", "verify")

type DigestFetcher interface {
	FetchDigest(ctx context.Context, repo string) (string, string, error)
}

type BundleFetcher interface {
	FetchBundle(ctx context.Context, repo, digest string) ([]byte, error)
}

type AttestationFetcher interface {
	FetchAttestation(ctx context.Context, host string) (*verifier.AttestationDocument, error)
}

type EnclaveVerifier interface {
	VerifyEnclave(ctx context.Context, doc *verifier.AttestationDocument) (*verifier.EnclaveVerification, error)
}

type CodeVerifier interface {
	Verify(bundle []byte, digest, repo string) (*measurement.AttestationMeasurement, error)
}

// Config holds the verification target and the collaborators of a Verifier
type Config struct {
	Repo         string
	Enclave      string
	Digests      DigestFetcher
	Bundles      BundleFetcher
	Attestations AttestationFetcher
	Enclaves     EnclaveVerifier
	Code         CodeVerifier
}

// Verifier verifies an enclave against the latest release of a repository.
// The document of the last verification stays available through Document.
type Verifier struct {
	cfg Config
	doc atomic.Pointer[document.VerificationDocument]
}

func New(cfg Config) (*Verifier, error) {
	if cfg.Repo == "" {
		return nil, errors.New("repository not specified")
	}
	if cfg.Enclave == "" {
		return nil, errors.New("enclave host not specified")
	}
	if cfg.Digests == nil || cfg.Bundles == nil || cfg.Attestations == nil ||
		cfg.Enclaves == nil || cfg.Code == nil {
		return nil, errors.New("verifier collaborators not fully configured")
	}
	return &Verifier{cfg: cfg}, nil
}

// Document returns the document of the last verification or nil if Verify
// was not called yet
func (v *Verifier) Document() *document.VerificationDocument {
	return v.doc.Load()
}

type step int

const (
	stepFetchDigest step = iota
	stepVerifyCode
	stepVerifyEnclave
	stepCompareMeasurements
)

func (s step) String() string {
	switch s {
	case stepFetchDigest:
		return "fetchDigest"
	case stepVerifyCode:
		return "verifyCode"
	case stepVerifyEnclave:
		return "verifyEnclave"
	case stepCompareMeasurements:
		return "compareMeasurements"
	default:
		return fmt.Sprintf("unknown step %d", int(s))
	}
}

// StepError is returned by Verify and names the step that failed
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%v failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// accumulator collects step results of a single verification
type accumulator struct {
	mu  sync.Mutex
	doc *document.VerificationDocument
}

func (a *accumulator) update(f func(doc *document.VerificationDocument)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f(a.doc)
}

func (a *accumulator) succeed(s step) {
	a.update(func(doc *document.VerificationDocument) {
		*stepOf(doc, s) = document.Step{Status: document.StatusSuccess}
	})
}

func (a *accumulator) fail(s step, err error) {
	a.update(func(doc *document.VerificationDocument) {
		*stepOf(doc, s) = document.Step{
			Status: document.StatusFailed,
			Error:  err.Error(),
			Kind:   Classify(err),
		}
	})
}

func stepOf(doc *document.VerificationDocument, s step) *document.Step {
	switch s {
	case stepFetchDigest:
		return &doc.Steps.FetchDigest
	case stepVerifyCode:
		return &doc.Steps.VerifyCode
	case stepVerifyEnclave:
		return &doc.Steps.VerifyEnclave
	default:
		return &doc.Steps.CompareMeasurements
	}
}

type failure struct {
	step step
	err  error
}

func (f *failure) Error() string {
	return f.err.Error()
}

// Verify runs all verification steps. The resulting document replaces the
// document of any previous run, also if verification fails. Any failure is
// returned as a StepError.
func (v *Verifier) Verify(ctx context.Context) (*document.VerificationDocument, error) {

	log.Infof("Verifying enclave %v against %v", v.cfg.Enclave, v.cfg.Repo)

	acc := &accumulator{doc: document.New(v.cfg.Repo, v.cfg.Enclave)}

	var code *measurement.AttestationMeasurement
	var enclave *verifier.EnclaveVerification

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tag, digest, err := v.cfg.Digests.FetchDigest(gctx, v.cfg.Repo)
		if err != nil {
			return &failure{stepFetchDigest, err}
		}
		acc.update(func(doc *document.VerificationDocument) {
			doc.ReleaseTag = tag
			doc.ReleaseDigest = digest
		})
		acc.succeed(stepFetchDigest)
		log.Debugf("Latest release of %v is %v (%v)", v.cfg.Repo, tag, digest)

		bundle, err := v.cfg.Bundles.FetchBundle(gctx, v.cfg.Repo, digest)
		if err != nil {
			return &failure{stepVerifyCode, err}
		}
		m, err := v.cfg.Code.Verify(bundle, digest, v.cfg.Repo)
		if err != nil {
			return &failure{stepVerifyCode, err}
		}
		code = m
		acc.update(func(doc *document.VerificationDocument) {
			doc.CodeMeasurement = m
			doc.CodeFingerprint = measurement.Fingerprint(m)
		})
		acc.succeed(stepVerifyCode)
		return nil
	})

	g.Go(func() error {
		att, err := v.cfg.Attestations.FetchAttestation(gctx, v.cfg.Enclave)
		if err != nil {
			return &failure{stepVerifyEnclave, err}
		}
		res, err := v.cfg.Enclaves.VerifyEnclave(gctx, att)
		if err != nil {
			return &failure{stepVerifyEnclave, err}
		}
		enclave = res
		acc.update(func(doc *document.VerificationDocument) {
			doc.EnclaveMeasurement = res.Measurement
			doc.EnclaveFingerprint = measurement.Fingerprint(res.Measurement)
			doc.TlsPublicKey = res.TlsPublicKeyFp
			doc.HpkePublicKey = res.HpkePublicKey
		})
		acc.succeed(stepVerifyEnclave)
		return nil
	})

	if err := g.Wait(); err != nil {
		var f *failure
		if !errors.As(err, &f) {
			f = &failure{stepVerifyEnclave, err}
		}
		return v.finish(acc, f)
	}

	if err := measurement.Compare(code, enclave.Measurement); err != nil {
		return v.finish(acc, &failure{stepCompareMeasurements, err})
	}
	acc.succeed(stepCompareMeasurements)

	return v.finish(acc, nil)
}

// finish stores the accumulated document and returns it
func (v *Verifier) finish(acc *accumulator, f *failure) (*document.VerificationDocument, error) {
	if f != nil {
		acc.fail(f.step, f.err)
	}

	acc.mu.Lock()
	doc := acc.doc
	doc.SecurityVerified = f == nil && doc.Steps.CompareMeasurements.Status == document.StatusSuccess
	acc.mu.Unlock()

	v.doc.Store(doc)

	if f != nil {
		log.Infof("Verification of %v failed in %v: %v", v.cfg.Enclave, f.step, f.err)
		return doc, &StepError{Step: f.step.String(), Err: f.err}
	}

	log.Infof("Successfully verified enclave %v running %v@%v", v.cfg.Enclave, v.cfg.Repo, doc.ReleaseTag)

	return doc, nil
}
