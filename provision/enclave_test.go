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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fraunhofer-AISEC/snpverify/measurement"
)

func TestFetchAttestation(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"Valid", http.StatusOK, `{"format": "` + measurement.SevGuestV2 + `", "body": "H4sIAAAAAAAA"}`, false},
		{"Incomplete", http.StatusOK, `{"format": "` + measurement.SevGuestV2 + `"}`, true},
		{"Malformed", http.StatusOK, `{"format":`, true},
		{"Server Error", http.StatusInternalServerError, ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, AttestationPath, r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := &EnclaveClient{Client: srv.Client()}
			host := strings.TrimPrefix(srv.URL, "https://")

			doc, err := c.FetchAttestation(context.Background(), host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, measurement.SevGuestV2, doc.Format)
			assert.Equal(t, "H4sIAAAAAAAA", doc.Body)
		})
	}
}
