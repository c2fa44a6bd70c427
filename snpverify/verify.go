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
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/snpverify/document"
	"github.com/Fraunhofer-AISEC/snpverify/engine"
)

func runVerify(ctx context.Context, cmd *cli.Command) error {

	c, err := GetConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	if c.Repo == "" || c.Enclave == "" {
		return errors.New("verify requires a repository and an enclave host")
	}

	s, err := document.NewSerializer(c.Serialization)
	if err != nil {
		return err
	}

	var signer *document.Signer
	if c.SigningKey != "" {
		signer, err = document.LoadSigner(c.SigningKey, c.SigningCerts)
		if err != nil {
			return fmt.Errorf("failed to load document signer: %w", err)
		}
	}

	e, err := engine.New(ctx, &c.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer e.Close()

	v, err := e.Verifier(c.Repo, c.Enclave)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	log.Infof("Verifying enclave %v against %v", c.Enclave, c.Repo)

	doc, verr := v.Verify(ctx)
	if verr != nil {
		log.Errorf("Verification of %v failed: %v", c.Enclave, verr)
	} else {
		log.Infof("Verification of %v succeeded, measurement %v", c.Enclave, doc.CodeFingerprint)
	}

	data, err := s.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal verification document: %w", err)
	}
	if signer != nil {
		data, err = s.Sign(data, signer)
		if err != nil {
			return fmt.Errorf("failed to sign verification document: %w", err)
		}
	}
	if err := writeOutput(c.Out, data); err != nil {
		return err
	}

	return verr
}
