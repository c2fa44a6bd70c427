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
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/snpverify/engine"
	"github.com/Fraunhofer-AISEC/snpverify/internal"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
	"github.com/Fraunhofer-AISEC/snpverify/verifier"
)

func runGetVcek(ctx context.Context, cmd *cli.Command) error {

	c, err := GetConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	raw, err := readReport(c.In)
	if err != nil {
		return err
	}

	report, err := snp.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse report: %w", err)
	}

	e, err := engine.New(ctx, &c.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer e.Close()

	log.Debugf("Fetching VCEK from %v", e.Kds.VcekUrl(report.Product.Name, report.ChipId, report.ReportedTcb))

	der, err := e.Vceks.GetVcek(ctx, report.Product.Name, report.ChipId, report.ReportedTcb)
	if err != nil {
		return fmt.Errorf("failed to get VCEK: %w", err)
	}

	// Files receive the DER encoding as served by the KDS, stdout PEM
	if c.Out != "" {
		return writeOutput(c.Out, der)
	}
	cert, err := internal.ParseCert(der)
	if err != nil {
		return err
	}
	return writeOutput("", internal.WriteCertPem(cert))
}

func runParseVcek(ctx context.Context, cmd *cli.Command) error {

	c, err := GetConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	data, err := readInput(c.In, "VCEK")
	if err != nil {
		return err
	}

	vcek, err := internal.ParseCert(data)
	if err != nil {
		return err
	}

	ext, err := verifier.ParseVcekExtensions(vcek)
	if err != nil {
		return fmt.Errorf("failed to parse VCEK extensions: %w", err)
	}

	fmt.Printf("Subject:           %v\n", vcek.Subject)
	fmt.Printf("Issuer:            %v\n", vcek.Issuer)
	fmt.Printf("Validity:          %v - %v\n", vcek.NotBefore, vcek.NotAfter)
	fmt.Printf("SignatureAlgo:     %v\n", vcek.SignatureAlgorithm)
	fmt.Printf("StructVersion:     %v\n", ext.StructVersion)
	fmt.Printf("ProductName:       %v\n", ext.ProductName)
	fmt.Printf("Tcb:               %v\n", ext.Tcb)
	fmt.Printf("HwId:              %v\n", hex.EncodeToString(ext.Hwid))
	if ext.CspId != "" {
		fmt.Printf("CspId:             %v\n", ext.CspId)
	}

	pub, err := internal.WritePublicKeyPem(vcek.PublicKey)
	if err != nil {
		return err
	}
	fmt.Printf("PublicKey:\n%s", pub)

	return nil
}
