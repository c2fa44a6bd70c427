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

package verifier

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"fmt"

	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

const (
	oidStructVersion = "1.3.6.1.4.1.3704.1.1"
	oidProductName   = "1.3.6.1.4.1.3704.1.2"
	oidBl            = "1.3.6.1.4.1.3704.1.3.1"
	oidTee           = "1.3.6.1.4.1.3704.1.3.2"
	oidSnp           = "1.3.6.1.4.1.3704.1.3.3"
	oidUcode         = "1.3.6.1.4.1.3704.1.3.8"
	oidFmc           = "1.3.6.1.4.1.3704.1.3.9" // Only structVersion = 1 (Turin)
	oidHwid          = "1.3.6.1.4.1.3704.1.4"
	oidCspId         = "1.3.6.1.4.1.3704.1.5" // Only VLEK
)

const hwidSize = 64

func oidDesc(oid string) string {
	switch oid {
	case oidStructVersion:
		return "struct version"
	case oidProductName:
		return "product name"
	case oidFmc:
		return "FMC SPL"
	case oidBl:
		return "BL SPL"
	case oidTee:
		return "TEE SPL"
	case oidSnp:
		return "SNP SPL"
	case oidUcode:
		return "uCode SPL"
	case oidHwid:
		return "hardware ID"
	case oidCspId:
		return "CSP ID"
	default:
		return oid
	}
}

// VcekExtensions are the AMD specific extensions of a VCEK
type VcekExtensions struct {
	StructVersion uint8
	ProductName   string
	Tcb           snp.TCBParts
	Hwid          []byte
	CspId         string
}

func getExtension(cert *x509.Certificate, oid string) ([]byte, bool) {
	for _, ext := range cert.Extensions {
		if ext.Id.String() == oid {
			return ext.Value, true
		}
	}
	return nil, false
}

// productNameDer returns the IA5String encoding of the product name as it
// appears in the VCEK product name extension
func productNameDer(product string) ([]byte, error) {
	return asn1.MarshalWithParams(product, "ia5")
}

// extensionUint8 decodes an AMD SPL extension. The values are DER integers
// with a single content byte, or two bytes if the most significant bit of
// the value is set and a leading zero keeps the integer positive.
func extensionUint8(cert *x509.Certificate, oid string) (uint8, error) {
	v, ok := getExtension(cert, oid)
	if !ok {
		return 0, fmt.Errorf("extension %v (%v) not present in certificate", oid, oidDesc(oid))
	}
	if len(v) != 3 && len(v) != 4 {
		return 0, fmt.Errorf("extension %v value unexpected length %v (expected 3 or 4)", oid, len(v))
	}
	if v[0] != 0x2 {
		return 0, fmt.Errorf("extension %v value[0]: %v does not match expected value 2 (tag Integer)",
			oid, v[0])
	}
	switch {
	case v[1] == 0x1 && len(v) == 3:
		return v[2], nil
	case v[1] == 0x2 && len(v) == 4:
		// Due to openssl, the sign bit must remain zero for positive integers
		// even though this field is defined as unsigned int
		if v[2] != 0x00 {
			return 0, fmt.Errorf("extension %v value %x exceeds 8 bits", oid, v[2:])
		}
		return v[3], nil
	default:
		return 0, fmt.Errorf("extension %v value[1]: %v does not match expected value 1 or 2 (length of integer)",
			oid, v[1])
	}
}

// ParseVcekExtensions decodes the AMD extensions of a VCEK
func ParseVcekExtensions(cert *x509.Certificate) (*VcekExtensions, error) {
	exts := &VcekExtensions{}

	if v, ok := getExtension(cert, oidStructVersion); ok {
		sv, err := extensionUint8(cert, oidStructVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid struct version %v: %w", hex.EncodeToString(v), err)
		}
		exts.StructVersion = sv
	}

	if v, ok := getExtension(cert, oidProductName); ok {
		var name string
		rest, err := asn1.Unmarshal(v, &name)
		if err != nil {
			return nil, fmt.Errorf("failed to decode product name: %w", err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("product name has %d trailing bytes", len(rest))
		}
		exts.ProductName = name
	}

	var err error
	for _, spl := range []struct {
		oid string
		v   *uint8
	}{
		{oidBl, &exts.Tcb.BlSpl},
		{oidTee, &exts.Tcb.TeeSpl},
		{oidSnp, &exts.Tcb.SnpSpl},
		{oidUcode, &exts.Tcb.UcodeSpl},
	} {
		*spl.v, err = extensionUint8(cert, spl.oid)
		if err != nil {
			return nil, err
		}
	}
	if _, ok := getExtension(cert, oidFmc); ok {
		exts.Tcb.FmcSpl, err = extensionUint8(cert, oidFmc)
		if err != nil {
			return nil, err
		}
	}

	if v, ok := getExtension(cert, oidHwid); ok {
		exts.Hwid = bytes.Clone(v)
	}
	if v, ok := getExtension(cert, oidCspId); ok {
		exts.CspId = string(v)
	}

	return exts, nil
}

// checkVcekExtensions checks the VCEK extensions that do not depend on a
// specific report: no CSP ID, a hardware ID of the expected size and the
// expected product name
func checkVcekExtensions(vcek *x509.Certificate, product string) error {

	if v, ok := getExtension(vcek, oidCspId); ok {
		return fmt.Errorf("VCEK carries %v extension %q which is only defined for VLEK certificates",
			oidDesc(oidCspId), string(v))
	}

	hwid, ok := getExtension(vcek, oidHwid)
	if !ok {
		return fmt.Errorf("%v extension not present in VCEK", oidDesc(oidHwid))
	}
	if len(hwid) != hwidSize {
		return fmt.Errorf("%v extension has unexpected length %d (expected %d)",
			oidDesc(oidHwid), len(hwid), hwidSize)
	}

	expected, err := productNameDer(product)
	if err != nil {
		return fmt.Errorf("failed to encode product name: %w", err)
	}
	name, ok := getExtension(vcek, oidProductName)
	if !ok {
		return fmt.Errorf("%v extension not present in VCEK", oidDesc(oidProductName))
	}
	if !bytes.Equal(name, expected) {
		return fmt.Errorf("%v extension %v does not match expected %v",
			oidDesc(oidProductName), hex.EncodeToString(name), hex.EncodeToString(expected))
	}

	return nil
}

// ValidateReportBinding checks that the VCEK was issued for the chip and the
// reported TCB of the report
func ValidateReportBinding(vcek *x509.Certificate, report *snp.AttestationReport) error {

	// The x509 extensions must match the reported TCB
	tcb := report.Tcb(report.ReportedTcb)
	log.Tracef("Checking VCEK extensions against reported TCB %v", tcb)

	checks := []struct {
		oid   string
		value uint8
	}{
		{oidBl, tcb.BlSpl},
		{oidTee, tcb.TeeSpl},
		{oidSnp, tcb.SnpSpl},
		{oidUcode, tcb.UcodeSpl},
	}
	if report.Product.Name == snp.ProductTurin {
		checks = append(checks, struct {
			oid   string
			value uint8
		}{oidFmc, tcb.FmcSpl})
	}

	for _, c := range checks {
		v, err := extensionUint8(vcek, c.oid)
		if err != nil {
			return &ChainValidationError{Link: LinkVcek, Reason: FailBinding, Err: err}
		}
		if v != c.value {
			return chainErr(LinkVcek, FailBinding, "VCEK %v %d does not match reported TCB %v %d",
				oidDesc(c.oid), v, oidDesc(c.oid), c.value)
		}
		log.Tracef("VCEK %v %d matches reported TCB", oidDesc(c.oid), v)
	}

	if report.SignerInfo.MaskChipKey {
		for _, b := range report.ChipId {
			if b != 0 {
				return chainErr(LinkReport, FailBinding,
					"chip ID must be zero if the chip key is masked, got %v", hex.EncodeToString(report.ChipId))
			}
		}
		log.Debug("Chip key is masked, skipping hardware ID check")
		return nil
	}

	// For Milan and Genoa, the chip ID is 64 bytes. For Turin, it is 8 bytes
	l := hwidSize
	if report.Product.Name == snp.ProductTurin {
		l = 8
	}
	hwid, ok := getExtension(vcek, oidHwid)
	if !ok {
		return chainErr(LinkVcek, FailBinding, "%v extension not present in VCEK", oidDesc(oidHwid))
	}
	if !bytes.Equal(hwid, report.ChipId[:l]) {
		return chainErr(LinkVcek, FailBinding, "VCEK %v %v does not match report chip ID %v",
			oidDesc(oidHwid), hex.EncodeToString(hwid), hex.EncodeToString(report.ChipId[:l]))
	}
	log.Debug("VCEK matches report chip ID and reported TCB")

	return nil
}
