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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fraunhofer-AISEC/snpverify/internal/fixtures"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

type countingFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	vcek    []byte
	err     error
	ctxErr  error
}

func (f *countingFetcher) FetchVcek(ctx context.Context, _ string, _ []byte, _ uint64) ([]byte, error) {
	if f.calls.Add(1) == 1 && f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return f.vcek, nil
}

func TestGetVcek(t *testing.T) {
	f := &countingFetcher{vcek: fixtures.VcekDer}
	cache := NewMemoryCache()
	p := NewVcekProvider(f, cache)

	for i := 0; i < 3; i++ {
		der, err := p.GetVcek(context.Background(), snp.ProductGenoa, fixtures.ChipId(), testTcb())
		require.NoError(t, err)
		assert.Equal(t, fixtures.VcekDer, der)
	}
	assert.Equal(t, int32(1), f.calls.Load())

	_, ok, _ := cache.Get(VcekCacheKey(snp.ProductGenoa, fixtures.ChipId(), testTcb()))
	assert.True(t, ok)
}

func TestGetVcekCorruptEntry(t *testing.T) {
	f := &countingFetcher{vcek: fixtures.VcekDer}
	cache := NewMemoryCache()
	key := VcekCacheKey(snp.ProductGenoa, fixtures.ChipId(), testTcb())
	require.NoError(t, cache.Set(key, []byte("corrupt")))

	der, err := NewVcekProvider(f, cache).GetVcek(context.Background(), snp.ProductGenoa, fixtures.ChipId(), testTcb())
	require.NoError(t, err)
	assert.Equal(t, fixtures.VcekDer, der)
	assert.Equal(t, int32(1), f.calls.Load())

	cached, ok, _ := cache.Get(key)
	assert.True(t, ok)
	assert.Equal(t, fixtures.VcekDer, cached)
}

func TestGetVcekFetchError(t *testing.T) {
	fetchErr := &TransportError{Url: "https://kdsintf.amd.com", StatusCode: 429, Err: errors.New("too many requests")}
	f := &countingFetcher{err: fetchErr}
	cache := NewMemoryCache()

	_, err := NewVcekProvider(f, cache).GetVcek(context.Background(), snp.ProductGenoa, fixtures.ChipId(), testTcb())
	assert.ErrorIs(t, err, fetchErr)

	_, ok, _ := cache.Get(VcekCacheKey(snp.ProductGenoa, fixtures.ChipId(), testTcb()))
	assert.False(t, ok)
}

func TestGetVcekInvalidFetched(t *testing.T) {
	f := &countingFetcher{vcek: []byte("garbage")}
	cache := NewMemoryCache()

	_, err := NewVcekProvider(f, cache).GetVcek(context.Background(), snp.ProductGenoa, fixtures.ChipId(), testTcb())
	assert.Error(t, err)

	_, ok, _ := cache.Get(VcekCacheKey(snp.ProductGenoa, fixtures.ChipId(), testTcb()))
	assert.False(t, ok)
}

func TestGetVcekSingleFlight(t *testing.T) {
	f := &countingFetcher{
		vcek:    fixtures.VcekDer,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := NewVcekProvider(f, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.GetVcek(context.Background(), snp.ProductGenoa, fixtures.ChipId(), testTcb())
		}(i)
	}

	<-f.started
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fixtures.VcekDer, results[i])
	}
}

func TestGetVcekCancelledCaller(t *testing.T) {
	f := &countingFetcher{
		vcek:    fixtures.VcekDer,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	cache := NewMemoryCache()
	p := NewVcekProvider(f, cache)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.GetVcek(ctx, snp.ProductGenoa, fixtures.ChipId(), testTcb())
		firstErr <- err
	}()
	<-f.started

	// The first caller gives up while the fetch is in flight
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		der []byte
		err error
	}
	second := make(chan result, 1)
	go func() {
		der, err := p.GetVcek(context.Background(), snp.ProductGenoa, fixtures.ChipId(), testTcb())
		second <- result{der, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.release)

	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, fixtures.VcekDer, r.der)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.NoError(t, f.ctxErr)

	_, ok, _ := cache.Get(VcekCacheKey(snp.ProductGenoa, fixtures.ChipId(), testTcb()))
	assert.True(t, ok)
}
