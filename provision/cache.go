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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Fraunhofer-AISEC/snpverify/internal"
)

// Cache stores VCEKs by key. Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Evict(key string) error
}

// MemoryCache is a process local Cache
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (c *MemoryCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = clone(value)
	return nil
}

func (c *MemoryCache) Evict(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// DirCache stores each entry as a DER file within a folder, which allows
// pre-provisioning VCEKs for offline verification
type DirCache struct {
	dir string
}

func NewDirCache(dir string) (*DirCache, error) {
	if err := internal.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create VCEK cache %q: %w", dir, err)
	}
	return &DirCache{dir: dir}, nil
}

func (c *DirCache) path(key string) string {
	return filepath.Join(c.dir, strings.ReplaceAll(key, "/", "_")+".der")
}

func (c *DirCache) Get(key string) ([]byte, bool, error) {
	p := c.path(key)
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		log.Tracef("VCEK not present at %v", p)
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to read %v: %w", p, err)
	}
	log.Tracef("Using offline cached VCEK %v", p)
	return data, true, nil
}

func (c *DirCache) Set(key string, value []byte) error {
	p := c.path(key)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, value, 0644); err != nil {
		return fmt.Errorf("failed to write file %v: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to rename %v: %w", tmp, err)
	}
	log.Tracef("Cached VCEK at %v", p)
	return nil
}

func (c *DirCache) Evict(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to evict %v: %w", key, err)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
