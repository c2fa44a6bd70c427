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
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/exp/maps"
)

const (
	CacheMemory = "memory"
	CacheDir    = "dir"
	CacheSqlite = "sqlite"
)

var cacheBackends = map[string]struct{}{
	CacheMemory: {},
	CacheDir:    {},
	CacheSqlite: {},
}

// Config holds the settings shared by all binaries that verify enclaves
type Config struct {
	KdsUrl          string   `json:"kdsUrl,omitempty"`
	GithubApi       string   `json:"githubApi,omitempty"`
	GithubToken     string   `json:"githubToken,omitempty"`
	CacheBackend    string   `json:"cacheBackend,omitempty"`
	CachePath       string   `json:"cachePath,omitempty"`
	TrustedRoot     string   `json:"trustedRoot,omitempty"`
	Policy          string   `json:"policy,omitempty"`
	Ark             string   `json:"ark,omitempty"`
	Ask             string   `json:"ask,omitempty"`
	FetchCrl        bool     `json:"fetchCrl,omitempty"`
	ArkFingerprints []string `json:"arkFingerprints,omitempty"`

	// Now overrides the clock used for certificate validity checks
	Now func() time.Time `json:"-"`
}

func GetCacheBackends() []string {
	return maps.Keys(cacheBackends)
}

// Validate checks the configuration and converts all paths to absolute paths
func (c *Config) Validate() error {
	if c.CacheBackend == "" {
		c.CacheBackend = CacheMemory
	}
	if _, ok := cacheBackends[strings.ToLower(c.CacheBackend)]; !ok {
		return fmt.Errorf("cache backend %v not implemented. Possible: %v",
			c.CacheBackend, strings.Join(GetCacheBackends(), ","))
	}
	c.CacheBackend = strings.ToLower(c.CacheBackend)
	if c.CacheBackend != CacheMemory && c.CachePath == "" {
		return fmt.Errorf("cache backend %v requires a cache path", c.CacheBackend)
	}
	if (c.Ark == "") != (c.Ask == "") {
		return fmt.Errorf("custom roots require both an ARK and an ASK")
	}

	for _, p := range []*string{&c.CachePath, &c.TrustedRoot, &c.Policy, &c.Ark, &c.Ask} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %v: %w", *p, err)
		}
		*p = abs
	}

	return nil
}

func (c *Config) Print() {
	log.Debugf("\tKDS URL          : %v", c.KdsUrl)
	log.Debugf("\tGitHub API       : %v", c.GithubApi)
	log.Debugf("\tCache            : %v %v", c.CacheBackend, c.CachePath)
	log.Debugf("\tTrusted root     : %v", c.TrustedRoot)
	log.Debugf("\tPolicy           : %v", c.Policy)
	log.Debugf("\tARK / ASK        : %v %v", c.Ark, c.Ask)
	log.Debugf("\tFetch CRL        : %v", c.FetchCrl)
	log.Debugf("\tARK fingerprints : %v", c.ArkFingerprints)
}
