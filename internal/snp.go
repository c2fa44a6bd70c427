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
	"fmt"
)

// KeyType is the key that signed an SNP attestation report, encoded in
// bits 4:2 of the report's signer info
type KeyType byte

const (
	VCEK KeyType = 0
	VLEK KeyType = 1
	NONE KeyType = 7
)

func (t KeyType) String() string {
	switch t {
	case VCEK:
		return "vcek"
	case VLEK:
		return "vlek"
	case NONE:
		return "none"
	default:
		return fmt.Sprintf("reserved(%d)", byte(t))
	}
}

// GetKeyType returns the signing key type from the report signer info field
func GetKeyType(signerInfo uint32) (KeyType, error) {
	t := KeyType((signerInfo >> 2) & 0x7)
	switch t {
	case VCEK:
		log.Trace("VCEK is used to sign attestation report")
		return t, nil
	case VLEK:
		log.Trace("VLEK is used to sign attestation report")
		return t, nil
	case NONE:
		return t, nil
	}
	return t, fmt.Errorf("unknown signing key type %v", byte(t))
}
