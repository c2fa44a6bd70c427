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
	"os"
)

// EnsureDir creates the directory p including parents if it does not exist
func EnsureDir(p string) error {
	info, err := os.Stat(p)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%v exists but is not a directory", p)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to get file info: %w", err)
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %v: %w", p, err)
	}
	return nil
}
