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

// Package engine wires the verification components and their network
// collaborators from a Config
package engine

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/snpverify/provenance"
	"github.com/Fraunhofer-AISEC/snpverify/provision"
	"github.com/Fraunhofer-AISEC/snpverify/verifier"
	"github.com/Fraunhofer-AISEC/snpverify/verify"
)

var log = logrus.WithField("service", "engine")

const cacheTable = "vcek"

type Engine struct {
	Kds    *provision.KdsClient
	Github *provision.GithubClient
	Vceks  *provision.VcekProvider
	Policy *verifier.ReportPolicy

	config *Config
	roots  *verifier.Roots
	crl    *x509.RevocationList
	cache  provision.Cache
}

func New(ctx context.Context, c *Config) (*Engine, error) {

	if err := c.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		Kds:    &provision.KdsClient{BaseUrl: c.KdsUrl},
		Github: &provision.GithubClient{ApiUrl: c.GithubApi, Token: c.GithubToken},
		Policy: verifier.DefaultReportPolicy(),
		config: c,
	}

	if c.Policy != "" {
		p, err := verifier.LoadPolicy(c.Policy)
		if err != nil {
			return nil, fmt.Errorf("failed to load report policy: %w", err)
		}
		e.Policy = p
	}

	if c.Ark != "" {
		ark, err := os.ReadFile(c.Ark)
		if err != nil {
			return nil, fmt.Errorf("failed to read ARK: %w", err)
		}
		ask, err := os.ReadFile(c.Ask)
		if err != nil {
			return nil, fmt.Errorf("failed to read ASK: %w", err)
		}
		e.roots, err = verifier.ParseRoots(verifier.NativePlatform{}, ark, ask)
		if err != nil {
			return nil, fmt.Errorf("failed to parse roots: %w", err)
		}
	}

	if c.FetchCrl {
		crl, err := e.Kds.FetchCrl(ctx, verifier.SupportedProduct)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch CRL: %w", err)
		}
		e.crl = crl
	}

	cache, err := newCache(c)
	if err != nil {
		return nil, err
	}
	e.cache = cache
	e.Vceks = provision.NewVcekProvider(e.Kds, cache)

	log.Debugf("Initialized engine with %v VCEK cache", c.CacheBackend)

	return e, nil
}

func newCache(c *Config) (provision.Cache, error) {
	switch c.CacheBackend {
	case CacheDir:
		return provision.NewDirCache(c.CachePath)
	case CacheSqlite:
		return provision.NewSqliteCache(c.CachePath, cacheTable)
	default:
		return provision.NewMemoryCache(), nil
	}
}

// Close releases the VCEK cache
func (e *Engine) Close() error {
	if s, ok := e.cache.(*provision.SqliteCache); ok {
		return s.Close()
	}
	return nil
}

// EnclaveVerifier returns a verifier for SNP reports. If vcek is empty, VCEKs
// are retrieved through the cached KDS client. Without configured roots, the
// ARK and ASK are retrieved from the KDS once per process.
func (e *Engine) EnclaveVerifier(vcek []byte) (*verifier.EnclaveVerifier, error) {
	var fetcher verifier.VcekGetter = e.Vceks
	if len(vcek) > 0 {
		fetcher = verifier.StaticVcek(vcek)
	}
	roots := e.roots
	if roots == nil {
		if len(e.config.ArkFingerprints) == 0 {
			log.Warn("Trusting the ARK served by the KDS without fingerprint pinning")
		}
		var err error
		roots, err = verifier.FetchRoots(e.Kds)
		if err != nil {
			return nil, err
		}
	}
	chain, err := verifier.NewChainValidator(verifier.ChainOptions{
		Roots:           roots,
		Now:             e.config.Now,
		Fetcher:         fetcher,
		Crl:             e.crl,
		ArkFingerprints: e.config.ArkFingerprints,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain validator: %w", err)
	}
	return verifier.NewEnclaveVerifier(chain, e.Policy)
}

// CodeVerifier returns a provenance verifier. Without a configured trusted
// root, the Sigstore public good root is fetched via TUF.
func (e *Engine) CodeVerifier() (*provenance.Verifier, error) {
	var root []byte
	if e.config.TrustedRoot != "" {
		var err error
		root, err = os.ReadFile(e.config.TrustedRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to read trusted root: %w", err)
		}
	}
	bundles, err := provenance.NewSigstoreVerifier(root)
	if err != nil {
		return nil, err
	}
	return provenance.NewVerifier(bundles), nil
}

// Verifier returns an orchestrator verifying the enclave at host against
// the latest release of repo
func (e *Engine) Verifier(repo, host string) (*verify.Verifier, error) {
	if repo == "" || host == "" {
		return nil, errors.New("repository and enclave host must be specified")
	}
	enclaves, err := e.EnclaveVerifier(nil)
	if err != nil {
		return nil, err
	}
	code, err := e.CodeVerifier()
	if err != nil {
		return nil, err
	}
	return verify.New(verify.Config{
		Repo:         repo,
		Enclave:      host,
		Digests:      e.Github,
		Bundles:      e.Github,
		Attestations: &provision.EnclaveClient{},
		Enclaves:     enclaves,
		Code:         code,
	})
}
