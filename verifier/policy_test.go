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
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/Fraunhofer-AISEC/snpverify/internal/fixtures"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

func genoaTcb(bl, tee, snpSpl, ucode uint8) uint64 {
	return snp.ComposeTcb(snp.ProductGenoa, snp.TCBParts{
		BlSpl:    bl,
		TeeSpl:   tee,
		SnpSpl:   snpSpl,
		UcodeSpl: ucode,
	})
}

func mustHex(t *testing.T, s string) HexBytes {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestValidateReport(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(r *snp.AttestationReport, p *ReportPolicy)
		wantKind  PolicyViolationKind
		wantField string
	}{
		{
			name:   "Default policy",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {},
		},
		{
			name: "Unauthorized debug",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Policy.Debug = true
			},
			wantKind:  ViolationUnauthorized,
			wantField: "policy",
		},
		{
			name: "Authorized debug",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Policy.Debug = true
				p.Policy.Debug = true
			},
		},
		{
			name: "Unauthorized migration agent",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Policy.MigrateMa = true
			},
			wantKind:  ViolationUnauthorized,
			wantField: "policy",
		},
		{
			name: "Unauthorized SMT",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.Policy.Smt = false
			},
			wantKind:  ViolationUnauthorized,
			wantField: "policy",
		},
		{
			name: "Unauthorized CXL",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Policy.CxlAllowed = true
			},
			wantKind:  ViolationUnauthorized,
			wantField: "policy",
		},
		{
			name: "Missing single socket",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.Policy.SingleSocket = true
			},
			wantKind:  ViolationMissingRequired,
			wantField: "policy",
		},
		{
			name: "Missing ciphertext hiding",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.Policy.CiphertextHiding = true
			},
			wantKind:  ViolationMissingRequired,
			wantField: "policy",
		},
		{
			name: "Present page swap disable",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Policy.PageSwapDisable = true
				p.Policy.PageSwapDisable = true
			},
		},
		{
			name: "ABI version too low",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.Policy.AbiMajor = 1
			},
			wantKind:  ViolationBelowMinimum,
			wantField: "policy.abi",
		},
		{
			name: "ABI version higher than required",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Policy.AbiMajor = 1
				p.Policy.AbiMinor = 31
			},
		},
		{
			name: "Unauthorized platform TSME",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.PlatformInfo.TsmeEnabled = false
			},
			wantKind:  ViolationUnauthorized,
			wantField: "platformInfo",
		},
		{
			name: "Missing platform RAPL disabled",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.PlatformInfo.RaplDisabled = true
			},
			wantKind:  ViolationMissingRequired,
			wantField: "platformInfo",
		},
		{
			name: "Platform ECC enabled",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.PlatformInfo.EccEnabled = true
			},
		},
		{
			name: "Platform info not checked",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.PlatformInfo.RaplDisabled = true
				p.PlatformInfo = nil
			},
		},
		{
			name: "VMPL out of range",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Vmpl = 4
				p.Vmpl = nil
			},
			wantKind:  ViolationOutOfRange,
			wantField: "vmpl",
		},
		{
			name: "VMPL 3",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Vmpl = 3
				vmpl := uint32(3)
				p.Vmpl = &vmpl
			},
		},
		{
			name: "VMPL mismatch",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.Vmpl = 3
			},
			wantKind:  ViolationMismatch,
			wantField: "vmpl",
		},
		{
			name: "Invalid required VMPL",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				vmpl := uint32(7)
				p.Vmpl = &vmpl
			},
			wantKind:  ViolationInvalidPolicy,
			wantField: "vmpl",
		},
		{
			name: "Guest SVN too low",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.MinimumGuestSvn = fixtures.GuestSvn + 1
			},
			wantKind:  ViolationBelowMinimum,
			wantField: "guestSvn",
		},
		{
			name: "Current build too low",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.MinimumBuild = fixtures.FirmwareBuild + 1
			},
			wantKind:  ViolationBelowMinimum,
			wantField: "currentBuild",
		},
		{
			name: "Committed version too low",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.CommittedMinor = 54
			},
			wantKind:  ViolationBelowMinimum,
			wantField: "committedVersion",
		},
		{
			name: "Provisional build",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.CommittedBuild = fixtures.FirmwareBuild + 1
			},
			wantKind:  ViolationProvisional,
			wantField: "committedBuild",
		},
		{
			name: "Provisional version",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.CurrentMinor = fixtures.FirmwareMinor + 1
			},
			wantKind:  ViolationProvisional,
			wantField: "committedVersion",
		},
		{
			name: "Provisional TCB",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.CurrentTcb = genoaTcb(fixtures.BlSpl, fixtures.TeeSpl, fixtures.SnpSpl+1, fixtures.UcodeSpl)
			},
			wantKind:  ViolationProvisional,
			wantField: "committedTcb",
		},
		{
			name: "Current TCB below floor",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				r.CurrentTcb = genoaTcb(fixtures.BlSpl, fixtures.TeeSpl, fixtures.SnpSpl, 0x47)
			},
			wantKind:  ViolationBelowMinimum,
			wantField: "currentTcb",
		},
		{
			name: "Single component below floor",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				// Packed value is higher than the floor but the bootloader is not
				r.ReportedTcb = genoaTcb(6, 0xff, 0xff, 0xff)
			},
			wantKind:  ViolationBelowMinimum,
			wantField: "reportedTcb",
		},
		{
			name: "Launch TCB below floor",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.MinimumLaunchTcb.TeeSpl = 1
			},
			wantKind:  ViolationBelowMinimum,
			wantField: "launchTcb",
		},
		{
			name: "Provisional firmware permitted",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.PermitProvisionalFirmware = true
			},
			wantKind:  ViolationUnsupported,
			wantField: "permitProvisionalFirmware",
		},
		{
			name: "Author key required",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.RequireAuthorKey = true
			},
			wantKind:  ViolationUnsupported,
			wantField: "requireAuthorKey",
		},
		{
			name: "ID block required",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.RequireIdBlock = true
			},
			wantKind:  ViolationUnsupported,
			wantField: "requireIdBlock",
		},
		{
			name: "Matching byte fields",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.Measurement = mustHex(t, fixtures.Measurement)
				p.HostData = mustHex(t, fixtures.HostData)
				p.ReportId = mustHex(t, fixtures.ReportId)
				p.ChipId = fixtures.ChipId()
				p.FamilyId = fixtures.FamilyId()
				p.ImageId = fixtures.ImageId()
				p.ReportData = mustHex(t, fixtures.TlsKeyFp+fixtures.HpkeKey)
			},
		},
		{
			name: "Measurement mismatch",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.Measurement = make([]byte, MeasurementSize)
			},
			wantKind:  ViolationMismatch,
			wantField: "measurement",
		},
		{
			name: "Invalid measurement length",
			modify: func(r *snp.AttestationReport, p *ReportPolicy) {
				p.Measurement = mustHex(t, fixtures.Measurement)[:32]
			},
			wantKind:  ViolationInvalidPolicy,
			wantField: "measurement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testReport(t)
			p := DefaultReportPolicy()
			tt.modify(r, p)

			err := ValidateReport(r, p)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			var pe *PolicyViolationError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantKind, pe.Kind)
			assert.Equal(t, tt.wantField, pe.Field)
		})
	}
}

func TestValidateReportAggregatesFields(t *testing.T) {
	p := DefaultReportPolicy()
	p.HostData = make([]byte, HostDataSize)
	p.ImageId = make([]byte, ImageIdSize)
	p.FamilyId = fixtures.FamilyId()

	err := ValidateReport(testReport(t), p)
	var pe *PolicyViolationError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ViolationMismatch, pe.Kind)
	assert.Equal(t, "hostData,imageId", pe.Field)
	assert.Len(t, multierr.Errors(pe.Err), 2)
}

func TestParsePolicyYaml(t *testing.T) {
	doc := `
minimumBuild: 21
minimumVersion: 0x0137
minimumTcb:
  blSpl: 7
  teeSpl: 0
  snpSpl: 14
  ucodeSpl: 72
vmpl: 0
measurement: ` + fixtures.Measurement + `
policy:
  abiMajor: 0
  abiMinor: 0
  smt: true
platformInfo:
  smtEnabled: true
  tsmeEnabled: true
`
	p, err := ParsePolicy([]byte(doc), true)
	require.NoError(t, err)
	assert.Equal(t, uint8(21), p.MinimumBuild)
	assert.Equal(t, uint16(1<<8|55), p.MinimumVersion)
	assert.Equal(t, uint8(0x48), p.MinimumTcb.UcodeSpl)
	require.NotNil(t, p.Vmpl)
	assert.Equal(t, uint32(0), *p.Vmpl)
	assert.Equal(t, mustHex(t, fixtures.Measurement), p.Measurement)
	assert.True(t, p.Policy.Smt)
	require.NotNil(t, p.PlatformInfo)
	assert.True(t, p.PlatformInfo.TsmeEnabled)

	assert.NoError(t, ValidateReport(testReport(t), p))
}

func TestParsePolicyJson(t *testing.T) {
	def := DefaultReportPolicy()
	def.HostData = mustHex(t, fixtures.HostData)

	data, err := json.Marshal(def)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hostData":"`+fixtures.HostData+`"`)

	p, err := ParsePolicy(data, false)
	require.NoError(t, err)
	assert.Equal(t, def, p)

	_, err = ParsePolicy([]byte(`{"hostData": "zz"}`), false)
	assert.Error(t, err)
}

func TestParsePolicyUnknownOptions(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		isYaml bool
	}{
		{
			name: "JSON Misspelled Minimum",
			data: `{"minTcb": {"blSpl": 255, "teeSpl": 255, "snpSpl": 255, "ucodeSpl": 255}}`,
		},
		{
			name: "JSON Unknown Nested Option",
			data: `{"minimumTcb": {"blSPL": 255}}`,
		},
		{
			name: "JSON Unknown Platform Flag",
			data: `{"platformInfo": {"eccEnable": true}}`,
		},
		{
			name: "JSON Trailing Document",
			data: `{"minimumGuestSvn": 1} {"minimumGuestSvn": 0}`,
		},
		{
			name: "JSON Empty",
			data: ``,
		},
		{
			name:   "YAML Misspelled Minimum",
			data:   "minimumTCB:\n  blSpl: 255\n",
			isYaml: true,
		},
		{
			name:   "YAML Unknown Nested Option",
			data:   "policy:\n  debugAllowed: false\n",
			isYaml: true,
		},
		{
			name:   "YAML Empty",
			data:   "",
			isYaml: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.data), tt.isYaml)
			assert.Error(t, err)
			assert.Nil(t, p)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()

	yamlFile := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(yamlFile, []byte("minimumGuestSvn: 3\n"), 0644))
	p, err := LoadPolicy(yamlFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), p.MinimumGuestSvn)

	jsonFile := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"minimumGuestSvn": 4}`), 0644))
	p, err = LoadPolicy(jsonFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), p.MinimumGuestSvn)

	_, err = LoadPolicy(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
