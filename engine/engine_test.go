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

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-sev-guest/verify/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fraunhofer-AISEC/snpverify/internal/fixtures"
	"github.com/Fraunhofer-AISEC/snpverify/measurement"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func fixtureConfig(t *testing.T) *Config {
	dir := t.TempDir()
	return &Config{
		Ark: writeFile(t, dir, "ark.pem", fixtures.ArkPem),
		Ask: writeFile(t, dir, "ask.pem", fixtures.AskPem),
		Now: fixtures.Now,
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory default", Config{}, false},
		{"dir cache", Config{CacheBackend: "dir", CachePath: filepath.Join(dir, "vceks")}, false},
		{"sqlite cache", Config{CacheBackend: "SQLITE", CachePath: filepath.Join(dir, "vceks.db")}, false},
		{"missing cache path", Config{CacheBackend: "dir"}, true},
		{"unknown cache", Config{CacheBackend: "redis", CachePath: dir}, true},
		{"ark without ask", Config{Ark: writeFile(t, dir, "ark.pem", fixtures.ArkPem)}, true},
		{"missing policy", Config{Policy: filepath.Join(dir, "nonexistent.yaml")}, true},
		{"invalid roots", Config{
			Ark: writeFile(t, dir, "bad_ark.pem", []byte("garbage")),
			Ask: writeFile(t, dir, "bad_ask.pem", []byte("garbage")),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(context.Background(), &tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e.Vceks)
			assert.NoError(t, e.Close())
		})
	}
}

func TestNewPolicy(t *testing.T) {
	c := fixtureConfig(t)
	c.Policy = writeFile(t, t.TempDir(), "policy.yaml", []byte("minimumGuestSvn: 5\n"))

	e, err := New(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), e.Policy.MinimumGuestSvn)
}

func TestNewFetchCrl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(fixtures.CrlOtherDer)
	}))
	defer srv.Close()

	c := fixtureConfig(t)
	c.KdsUrl = srv.URL
	c.FetchCrl = true

	e, err := New(context.Background(), c)
	require.NoError(t, err)

	v, err := e.EnclaveVerifier(fixtures.VcekDer)
	require.NoError(t, err)
	_, err = v.VerifyReport(context.Background(), fixtures.Report, measurement.SevGuestV1)
	assert.NoError(t, err)
}

func TestEnclaveVerifier(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(fixtures.VcekDer)
	}))
	defer srv.Close()

	c := fixtureConfig(t)
	c.KdsUrl = srv.URL
	c.CacheBackend = CacheDir
	c.CachePath = t.TempDir()

	e, err := New(context.Background(), c)
	require.NoError(t, err)

	v, err := e.EnclaveVerifier(nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := v.VerifyReport(context.Background(), fixtures.Report, measurement.SevGuestV1)
		require.NoError(t, err)
		assert.Equal(t, fixtures.Measurement, res.Measurement.Registers[0])
	}
	assert.Equal(t, int32(1), calls.Load())

	// A second engine on the same directory is served from the cache
	e2, err := New(context.Background(), c)
	require.NoError(t, err)
	v2, err := e2.EnclaveVerifier(nil)
	require.NoError(t, err)
	_, err = v2.VerifyReport(context.Background(), fixtures.Report, measurement.SevGuestV1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnclaveVerifierKdsRoots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cert_chain") {
			w.Write(fixtures.CertChain())
			return
		}
		w.Write(fixtures.VcekDer)
	}))
	defer srv.Close()

	tests := []struct {
		name         string
		fingerprints []string
		wantErr      bool
	}{
		{"Unpinned", nil, false},
		{"Pinned", []string{fixtures.ArkFingerprint}, false},
		{"Pinned Other ARK", []string{strings.Repeat("ab", 32)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trust.ClearProductCertCache()
			defer trust.ClearProductCertCache()

			e, err := New(context.Background(), &Config{
				KdsUrl:          srv.URL,
				ArkFingerprints: tt.fingerprints,
				Now:             fixtures.Now,
			})
			require.NoError(t, err)

			v, err := e.EnclaveVerifier(nil)
			require.NoError(t, err)
			_, err = v.VerifyReport(context.Background(), fixtures.Report, measurement.SevGuestV1)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnclaveVerifierKdsUnreachable(t *testing.T) {
	trust.ClearProductCertCache()
	defer trust.ClearProductCertCache()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	e, err := New(context.Background(), &Config{KdsUrl: srv.URL})
	require.NoError(t, err)

	_, err = e.EnclaveVerifier(nil)
	assert.Error(t, err)
}

func TestEnclaveVerifierStaticVcek(t *testing.T) {
	e, err := New(context.Background(), fixtureConfig(t))
	require.NoError(t, err)

	v, err := e.EnclaveVerifier(fixtures.VcekMilanDer)
	require.NoError(t, err)
	_, err = v.VerifyReport(context.Background(), fixtures.Report, measurement.SevGuestV1)
	assert.Error(t, err)
}

func TestVerifier(t *testing.T) {
	e, err := New(context.Background(), fixtureConfig(t))
	require.NoError(t, err)

	_, err = e.Verifier("", "enclave.example.com")
	assert.Error(t, err)

	e.config.TrustedRoot = filepath.Join(t.TempDir(), "nonexistent.json")
	_, err = e.Verifier("owner/repo", "enclave.example.com")
	assert.Error(t, err)

	e.config.TrustedRoot = writeFile(t, t.TempDir(), "root.json", []byte("garbage"))
	_, err = e.CodeVerifier()
	assert.Error(t, err)
}
