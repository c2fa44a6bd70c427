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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	for pkg, objects := range packages {
		t.Run(pkg, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), pkg)
			require.NoError(t, generate(objects, dir))
			for _, o := range objects {
				data, err := os.ReadFile(filepath.Join(dir, getName(o)+".json"))
				require.NoError(t, err)
				assert.True(t, json.Valid(data))
			}
		})
	}
}

func TestHexBytesSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generate(packages["verifier"], dir))

	data, err := os.ReadFile(filepath.Join(dir, "ReportPolicy.json"))
	require.NoError(t, err)

	var schema struct {
		Defs map[string]struct {
			Properties map[string]struct {
				Type    string `json:"type"`
				Pattern string `json:"pattern"`
			} `json:"properties"`
		} `json:"$defs"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))

	policy, ok := schema.Defs["ReportPolicy"]
	require.True(t, ok)
	assert.Equal(t, "string", policy.Properties["measurement"].Type)
	assert.NotEmpty(t, policy.Properties["measurement"].Pattern)
}
