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
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var log = logrus.WithField("service", "snpverify")

func main() {

	cmd := &cli.Command{
		Name:    "snpverify",
		Usage:   "Verify AMD SEV-SNP enclaves against the attested releases of their source repository",
		Version: getVersion(),
		Flags:   newFlags(),
		Commands: []*cli.Command{
			{
				Name:   "verify",
				Usage:  "Verify an enclave against the latest release of a repository and print the verification document",
				Action: runVerify,
			},
			{
				Name:   "parse-report",
				Usage:  "Parse and print an AMD SEV-SNP attestation report",
				Action: runParseReport,
			},
			{
				Name:   "check-report",
				Usage:  "Verify an AMD SEV-SNP attestation report or attestation document offline or via the KDS",
				Action: runCheckReport,
			},
			{
				Name:   "get-vcek",
				Usage:  "Fetch the VCEK for an AMD SEV-SNP attestation report from the AMD KDS",
				Action: runGetVcek,
			},
			{
				Name:   "parse-vcek",
				Usage:  "Parse and print the AMD extensions of a VCEK",
				Action: runParseVcek,
			},
			{
				Name:   "fingerprint",
				Usage:  "Print the fingerprint of a measurement",
				Action: runFingerprint,
			},
			{
				Name:   "compare",
				Usage:  "Compare two measurements",
				Action: runCompare,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func readInput(file, what string) ([]byte, error) {
	if file == "" {
		return nil, fmt.Errorf("no %v specified", what)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", what, err)
	}
	return data, nil
}

func writeOutput(out string, data []byte) error {
	if out == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	err := os.WriteFile(out, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write %v: %w", out, err)
	}
	return nil
}
