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
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/snpverify/engine"
	"github.com/Fraunhofer-AISEC/snpverify/measurement"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
	"github.com/Fraunhofer-AISEC/snpverify/verifier"
)

func runParseReport(ctx context.Context, cmd *cli.Command) error {

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

	printReport(os.Stdout, report)

	return nil
}

func runCheckReport(ctx context.Context, cmd *cli.Command) error {

	c, err := GetConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	raw, err := readReport(c.In)
	if err != nil {
		return err
	}

	var vcek []byte
	if c.Vcek != "" {
		vcek, err = readInput(c.Vcek, "VCEK")
		if err != nil {
			return err
		}
	}

	e, err := engine.New(ctx, &c.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer e.Close()

	v, err := e.EnclaveVerifier(vcek)
	if err != nil {
		return err
	}

	result, err := v.VerifyReport(ctx, raw, measurement.SevGuestV2)
	if err != nil {
		return fmt.Errorf("report verification failed: %w", err)
	}

	fmt.Printf("Report verification successful\n")
	fmt.Printf("Measurement:       %v\n", result.Measurement.Registers[0])
	fmt.Printf("TLS key FP:        %v\n", result.TlsPublicKeyFp)
	fmt.Printf("HPKE key:          %v\n", result.HpkePublicKey)
	fmt.Printf("VCEK:              %v\n", result.Chain.Vcek.Subject)
	fmt.Printf("ASK:               %v\n", result.Chain.Ask.Subject)
	fmt.Printf("ARK:               %v\n", result.Chain.Ark.Subject)

	return nil
}

// readReport reads a binary report or the report contained in an attestation
// document as served by enclaves
func readReport(file string) ([]byte, error) {
	data, err := readInput(file, "report")
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return data, nil
	}
	log.Debugf("Reading report from attestation document %v", file)
	doc := new(verifier.AttestationDocument)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attestation document: %w", err)
	}
	return doc.Report()
}

func printReport(w io.Writer, r *snp.AttestationReport) {
	fmt.Fprintf(w, "Version:             %v\n", r.Version)
	fmt.Fprintf(w, "GuestSvn:            %v\n", r.GuestSvn)
	fmt.Fprintf(w, "Policy:              0x%016x\n", r.PolicyRaw)
	fmt.Fprintf(w, "    abi_major:       %d\n", r.Policy.AbiMajor)
	fmt.Fprintf(w, "    abi_minor:       %d\n", r.Policy.AbiMinor)
	fmt.Fprintf(w, "    smt:             %v\n", r.Policy.Smt)
	fmt.Fprintf(w, "    migrate_ma:      %v\n", r.Policy.MigrateMa)
	fmt.Fprintf(w, "    debug:           %v\n", r.Policy.Debug)
	fmt.Fprintf(w, "    single_socket:   %v\n", r.Policy.SingleSocket)
	fmt.Fprintf(w, "    cxl_allowed:     %v\n", r.Policy.CxlAllowed)
	fmt.Fprintf(w, "    mem_aes_256_xts: %v\n", r.Policy.MemAes256Xts)
	fmt.Fprintf(w, "    rapl_dis:        %v\n", r.Policy.RaplDis)
	fmt.Fprintf(w, "    ciphertext_hid:  %v\n", r.Policy.CiphertextHiding)
	fmt.Fprintf(w, "    page_swap_dis:   %v\n", r.Policy.PageSwapDisable)
	fmt.Fprintf(w, "FamilyId:            %v\n", hex.EncodeToString(r.FamilyId))
	fmt.Fprintf(w, "ImageId:             %v\n", hex.EncodeToString(r.ImageId))
	fmt.Fprintf(w, "Vmpl:                %v\n", r.Vmpl)
	fmt.Fprintf(w, "SignatureAlgo:       0x%08x\n", r.SignatureAlgo)
	printTcb(w, r.Product.Name, "CurrentTcb:", r.CurrentTcb)
	fmt.Fprintf(w, "PlatformInfo:        0x%016x\n", r.PlatformInfoRaw)
	fmt.Fprintf(w, "    smt_en:          %v\n", r.PlatformInfo.SmtEnabled)
	fmt.Fprintf(w, "    tsme_en:         %v\n", r.PlatformInfo.TsmeEnabled)
	fmt.Fprintf(w, "    ecc_en:          %v\n", r.PlatformInfo.EccEnabled)
	fmt.Fprintf(w, "    rapl_dis:        %v\n", r.PlatformInfo.RaplDisabled)
	fmt.Fprintf(w, "    ciphertext_hid:  %v\n", r.PlatformInfo.CiphertextHidingEnabled)
	fmt.Fprintf(w, "    alias_check:     %v\n", r.PlatformInfo.AliasCheckComplete)
	fmt.Fprintf(w, "SignerInfo:          0x%08x\n", r.SignerInfoRaw)
	fmt.Fprintf(w, "    signing_key:     %v\n", r.SignerInfo.SigningKey)
	fmt.Fprintf(w, "    mask_chip_key:   %v\n", r.SignerInfo.MaskChipKey)
	fmt.Fprintf(w, "    author_key_en:   %v\n", r.SignerInfo.AuthorKeyEnabled)
	fmt.Fprintf(w, "ReportData:          %v\n", hex.EncodeToString(r.ReportData))
	fmt.Fprintf(w, "Measurement:         %v\n", hex.EncodeToString(r.Measurement))
	fmt.Fprintf(w, "HostData:            %v\n", hex.EncodeToString(r.HostData))
	fmt.Fprintf(w, "IdKeyDigest:         %v\n", hex.EncodeToString(r.IdKeyDigest))
	fmt.Fprintf(w, "AuthorKeyDigest:     %v\n", hex.EncodeToString(r.AuthorKeyDigest))
	fmt.Fprintf(w, "ReportId:            %v\n", hex.EncodeToString(r.ReportId))
	fmt.Fprintf(w, "ReportIdMa:          %v\n", hex.EncodeToString(r.ReportIdMa))
	printTcb(w, r.Product.Name, "ReportedTcb:", r.ReportedTcb)
	fmt.Fprintf(w, "Product:             %v\n", r.Product.Name)
	fmt.Fprintf(w, "    family:          0x%x\n", r.Product.Family)
	fmt.Fprintf(w, "    model:           0x%x\n", r.Product.Model)
	fmt.Fprintf(w, "    stepping:        0x%x\n", r.Product.Stepping)
	fmt.Fprintf(w, "ChipId:              %v\n", hex.EncodeToString(r.ChipId))
	printTcb(w, r.Product.Name, "CommittedTcb:", r.CommittedTcb)
	fmt.Fprintf(w, "CurrentVersion:      %d.%d build %d\n", r.CurrentMajor, r.CurrentMinor, r.CurrentBuild)
	fmt.Fprintf(w, "CommittedVersion:    %d.%d build %d\n", r.CommittedMajor, r.CommittedMinor, r.CommittedBuild)
	printTcb(w, r.Product.Name, "LaunchTcb:", r.LaunchTcb)
	if r.Version >= 5 {
		fmt.Fprintf(w, "LaunchMitVector:     0x%016x\n", r.LaunchMitVector)
		fmt.Fprintf(w, "CurrentMitVector:    0x%016x\n", r.CurrentMitVector)
	}
	fmt.Fprintf(w, "Signature:           %v\n", hex.EncodeToString(r.Signature))
}

func printTcb(w io.Writer, product, name string, tcb uint64) {
	parts, _ := snp.DecomposeTcb(product, tcb)
	fmt.Fprintf(w, "%-21v0x%016x\n", name, tcb)
	if product == snp.ProductTurin {
		fmt.Fprintf(w, "    fmc:             %d\n", parts.FmcSpl)
	}
	fmt.Fprintf(w, "    bl:              %d\n", parts.BlSpl)
	fmt.Fprintf(w, "    tee:             %d\n", parts.TeeSpl)
	fmt.Fprintf(w, "    snp:             %d\n", parts.SnpSpl)
	fmt.Fprintf(w, "    ucode:           %d\n", parts.UcodeSpl)
}
