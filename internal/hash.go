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

package internal

import (
	"crypto"
	"fmt"
	"hash"

	// Register the hash implementations used by the verifier
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Hash performs the hash operation using the specified hash algorithm
func Hash(alg crypto.Hash, data ...[]byte) ([]byte, error) {
	if !alg.Available() {
		return nil, fmt.Errorf("hash algorithm not available: %v", alg)
	}

	var h hash.Hash = alg.New()
	for _, d := range data {
		if _, err := h.Write(d); err != nil {
			return nil, fmt.Errorf("hashing failed: %w", err)
		}
	}
	return h.Sum(nil), nil
}
