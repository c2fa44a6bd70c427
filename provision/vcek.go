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

package provision

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/Fraunhofer-AISEC/snpverify/internal"
)

// VcekFetcher downloads the VCEK of a chip at a reported TCB
type VcekFetcher interface {
	FetchVcek(ctx context.Context, product string, chipId []byte, tcb uint64) ([]byte, error)
}

// VcekProvider serves VCEKs from a cache and fetches missing ones. Concurrent
// requests for the same VCEK share a single fetch.
type VcekProvider struct {
	fetcher VcekFetcher
	cache   Cache
	group   singleflight.Group
}

// NewVcekProvider creates a provider, using a MemoryCache if cache is nil
func NewVcekProvider(fetcher VcekFetcher, cache Cache) *VcekProvider {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &VcekProvider{
		fetcher: fetcher,
		cache:   cache,
	}
}

// VcekCacheKey returns the cache key for a VCEK
func VcekCacheKey(product string, chipId []byte, tcb uint64) string {
	return fmt.Sprintf("%v/%v/%016x", product, hex.EncodeToString(chipId), tcb)
}

// GetVcek returns the DER encoded VCEK. Cached entries that do not parse as
// a certificate are evicted and fetched again.
func (p *VcekProvider) GetVcek(ctx context.Context, product string, chipId []byte, tcb uint64) ([]byte, error) {

	key := VcekCacheKey(product, chipId, tcb)

	der, ok, err := p.cache.Get(key)
	if err != nil {
		log.Warnf("Failed to read VCEK %v from cache: %v", key, err)
	} else if ok {
		if _, err := x509.ParseCertificate(der); err == nil {
			log.Tracef("Using cached VCEK %v", key)
			return der, nil
		}
		log.Warnf("Evicting corrupt cached VCEK %v", key)
		if err := p.cache.Evict(key); err != nil {
			log.Warnf("Failed to evict VCEK %v: %v", key, err)
		}
	}

	// The fetch is shared, so a caller giving up must not cancel it for the others
	fctx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		der, err := p.fetcher.FetchVcek(fctx, product, chipId, tcb)
		if err != nil {
			return nil, err
		}
		der = internal.DerFromPem(der)
		if _, err := x509.ParseCertificate(der); err != nil {
			return nil, fmt.Errorf("failed to parse fetched VCEK: %w", err)
		}
		if err := p.cache.Set(key, der); err != nil {
			log.Warnf("Failed to cache VCEK: %v", err)
		}
		return der, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Tracef("Shared in-flight fetch of VCEK %v", key)
		}
		return clone(res.Val.([]byte)), nil
	}
}
