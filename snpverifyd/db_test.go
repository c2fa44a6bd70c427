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

package main

import (
	"encoding/pem"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fraunhofer-AISEC/snpverify/document"
)

func pemBlock(typ string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
}

func TestNewDb(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		table   string
		maxRows int
		wantErr bool
	}{
		{"valid", "documents", 10, false},
		{"injection", "documents; DROP TABLE x", 10, true},
		{"zero rows", "documents", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := NewDb(filepath.Join(dir, "test.db"), tt.table, tt.maxRows)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, db.Close())
		})
	}
}

func TestDbReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDb(path, "documents", 10)
	require.NoError(t, err)
	id, err := db.InsertDocument(document.New("owner/repo", "a.example.com"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDb(path, "documents", 10)
	require.NoError(t, err)
	defer db.Close()

	e, err := db.GetDocumentById(id)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "a.example.com", e.Document.EnclaveHost)
}

func TestDbRowLimit(t *testing.T) {
	db := testDb(t, 3)

	var ids []string
	for i := 0; i < 5; i++ {
		doc := document.New("owner/repo", fmt.Sprintf("host%d.example.com", i))
		id, err := db.InsertDocument(doc)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	envelopes, err := db.GetDocuments()
	require.NoError(t, err)
	require.Len(t, envelopes, 3)
	assert.Equal(t, "host4.example.com", envelopes[0].Host)
	assert.Equal(t, "host2.example.com", envelopes[2].Host)

	e, err := db.GetDocumentById(ids[0])
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestInsertNil(t *testing.T) {
	db := testDb(t, 3)
	_, err := db.InsertDocument(nil)
	assert.Error(t, err)
}
