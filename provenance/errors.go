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

package provenance

import (
	"fmt"
)

// ProvenanceCheck names the provenance check that failed
type ProvenanceCheck string

const (
	CheckInput       ProvenanceCheck = "input"
	CheckBundle      ProvenanceCheck = "bundle"
	CheckIssuer      ProvenanceCheck = "issuer"
	CheckRepository  ProvenanceCheck = "repository"
	CheckWorkflowRef ProvenanceCheck = "workflowRef"
	CheckPayloadType ProvenanceCheck = "payloadType"
	CheckPayload     ProvenanceCheck = "payload"
	CheckDigest      ProvenanceCheck = "digest"
	CheckPredicate   ProvenanceCheck = "predicate"
)

// ProvenanceError is returned if the code provenance could not be verified
type ProvenanceError struct {
	Check ProvenanceCheck
	Err   error
}

func (e *ProvenanceError) Error() string {
	return fmt.Sprintf("code provenance verification failed (%v): %v", e.Check, e.Err)
}

func (e *ProvenanceError) Unwrap() error {
	return e.Err
}

func provErr(check ProvenanceCheck, format string, args ...any) *ProvenanceError {
	return &ProvenanceError{
		Check: check,
		Err:   fmt.Errorf(format, args...),
	}
}
