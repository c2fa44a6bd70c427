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
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/snpverify/measurement"
)

func readMeasurement(file string) (*measurement.AttestationMeasurement, error) {
	data, err := readInput(file, "measurement")
	if err != nil {
		return nil, err
	}
	m := new(measurement.AttestationMeasurement)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal measurement %v: %w", file, err)
	}
	return m, nil
}

func runFingerprint(ctx context.Context, cmd *cli.Command) error {

	c, err := GetConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	m, err := readMeasurement(c.In)
	if err != nil {
		return err
	}

	fmt.Println(measurement.Fingerprint(m))

	return nil
}

func runCompare(ctx context.Context, cmd *cli.Command) error {

	c, err := GetConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	a, err := readMeasurement(c.A)
	if err != nil {
		return err
	}
	b, err := readMeasurement(c.B)
	if err != nil {
		return err
	}

	if err := measurement.Compare(a, b); err != nil {
		return err
	}

	fmt.Printf("Measurements match: %v\n", measurement.Fingerprint(a))

	return nil
}
