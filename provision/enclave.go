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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Fraunhofer-AISEC/snpverify/verifier"
)

const AttestationPath = "/.well-known/tinfoil-attestation"

// EnclaveClient fetches attestation documents from enclaves
type EnclaveClient struct {
	Client *http.Client
}

// FetchAttestation retrieves the attestation document the enclave at host
// serves over HTTPS
func (c *EnclaveClient) FetchAttestation(ctx context.Context, host string) (*verifier.AttestationDocument, error) {

	data, err := httpGet(ctx, c.Client, "https://"+host+AttestationPath, nil)
	if err != nil {
		return nil, err
	}

	doc := new(verifier.AttestationDocument)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attestation document of %v: %w", host, err)
	}
	if doc.Format == "" || doc.Body == "" {
		return nil, fmt.Errorf("attestation document of %v is incomplete", host)
	}

	log.Debugf("Fetched %v attestation document from %v", doc.Format, host)

	return doc, nil
}
