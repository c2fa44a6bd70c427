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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

const maxVmpl = 3

// Sizes of the report fields a policy can pin
const (
	ReportDataSize  = 64
	HostDataSize    = 32
	MeasurementSize = 48
	ChipIdSize      = 64
	ImageIdSize     = 16
	FamilyIdSize    = 16
	ReportIdSize    = 32
	ReportIdMaSize  = 32
)

// HexBytes is a byte slice that is hex encoded in JSON and YAML documents
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return h.decode(s)
}

func (h HexBytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(h), nil
}

func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return h.decode(s)
}

func (h *HexBytes) decode(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}
	*h = b
	return nil
}

// ReportPolicy are the requirements an attestation report must meet. Byte
// fields are only checked if set.
type ReportPolicy struct {
	MinimumGuestSvn uint32 `json:"minimumGuestSvn" yaml:"minimumGuestSvn"`
	MinimumBuild    uint8  `json:"minimumBuild" yaml:"minimumBuild"`
	// MinimumVersion is major << 8 | minor
	MinimumVersion   uint16       `json:"minimumVersion" yaml:"minimumVersion"`
	MinimumTcb       snp.TCBParts `json:"minimumTcb" yaml:"minimumTcb"`
	MinimumLaunchTcb snp.TCBParts `json:"minimumLaunchTcb" yaml:"minimumLaunchTcb"`

	PermitProvisionalFirmware bool `json:"permitProvisionalFirmware" yaml:"permitProvisionalFirmware"`
	RequireAuthorKey          bool `json:"requireAuthorKey" yaml:"requireAuthorKey"`
	RequireIdBlock            bool `json:"requireIdBlock" yaml:"requireIdBlock"`

	Vmpl *uint32 `json:"vmpl,omitempty" yaml:"vmpl,omitempty"`

	ReportData  HexBytes `json:"reportData,omitempty" yaml:"reportData,omitempty"`
	HostData    HexBytes `json:"hostData,omitempty" yaml:"hostData,omitempty"`
	Measurement HexBytes `json:"measurement,omitempty" yaml:"measurement,omitempty"`
	ChipId      HexBytes `json:"chipId,omitempty" yaml:"chipId,omitempty"`
	ImageId     HexBytes `json:"imageId,omitempty" yaml:"imageId,omitempty"`
	FamilyId    HexBytes `json:"familyId,omitempty" yaml:"familyId,omitempty"`
	ReportId    HexBytes `json:"reportId,omitempty" yaml:"reportId,omitempty"`
	ReportIdMa  HexBytes `json:"reportIdMa,omitempty" yaml:"reportIdMa,omitempty"`

	// Policy holds the authorized capabilities and required restrictions
	Policy snp.SnpPolicy `json:"policy" yaml:"policy"`
	// PlatformInfo is not checked if nil
	PlatformInfo *snp.SnpPlatformInfo `json:"platformInfo,omitempty" yaml:"platformInfo,omitempty"`
}

// DefaultReportPolicy returns the policy production enclaves are verified against
func DefaultReportPolicy() *ReportPolicy {
	minTcb := snp.TCBParts{
		BlSpl:    0x07,
		TeeSpl:   0x00,
		SnpSpl:   0x0e,
		UcodeSpl: 0x48,
	}
	vmpl := uint32(0)
	return &ReportPolicy{
		MinimumBuild:     21,
		MinimumVersion:   1<<8 | 55,
		MinimumTcb:       minTcb,
		MinimumLaunchTcb: minTcb,
		Vmpl:             &vmpl,
		Policy: snp.SnpPolicy{
			AbiMajor: 0,
			AbiMinor: 0,
			Smt:      true,
		},
		PlatformInfo: &snp.SnpPlatformInfo{
			SmtEnabled:  true,
			TsmeEnabled: true,
		},
	}
}

// LoadPolicy reads a report policy from a JSON or YAML file, chosen by the
// file extension
func LoadPolicy(path string) (*ReportPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ParsePolicy(data, ext == ".yaml" || ext == ".yml")
}

// ParsePolicy decodes a JSON or YAML encoded report policy. Unknown options
// are rejected, as a misspelled minimum would otherwise silently be zero.
func ParsePolicy(data []byte, isYaml bool) (*ReportPolicy, error) {
	p := new(ReportPolicy)
	var err error
	if isYaml {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(p)
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(p)
		if err == nil && dec.More() {
			err = errors.New("trailing data after policy")
		}
	}
	if errors.Is(err, io.EOF) {
		err = errors.New("empty policy")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return p, nil
}

func compareByteVersions(major0, minor0, major1, minor1 uint8) int {
	return (int(major0)<<8 | int(minor0)) - (int(major1)<<8 | int(minor1))
}

// ValidateReport checks the fields of a parsed report against the policy
func ValidateReport(report *snp.AttestationReport, policy *ReportPolicy) error {
	if report == nil || policy == nil {
		return errors.New("internal error: report or policy is nil")
	}

	if policy.PermitProvisionalFirmware {
		return violation(ViolationUnsupported, "permitProvisionalFirmware",
			"permitting provisional firmware is not supported")
	}
	if policy.RequireAuthorKey {
		return violation(ViolationUnsupported, "requireAuthorKey", "author key requirement is not supported")
	}
	if policy.RequireIdBlock {
		return violation(ViolationUnsupported, "requireIdBlock", "ID block requirement is not supported")
	}

	if err := validateGuestPolicy(report.Policy, policy.Policy); err != nil {
		return err
	}
	if err := validatePlatformInfo(report.PlatformInfo, policy.PlatformInfo); err != nil {
		return err
	}
	if err := validateVmpl(report.Vmpl, policy.Vmpl); err != nil {
		return err
	}

	if report.GuestSvn < policy.MinimumGuestSvn {
		return violation(ViolationBelowMinimum, "guestSvn", "guest SVN %d is less than the required minimum %d",
			report.GuestSvn, policy.MinimumGuestSvn)
	}

	if err := validateVersion(report, policy); err != nil {
		return err
	}
	if err := validateTcb(report, policy); err != nil {
		return err
	}
	if err := validateVerbatimFields(report, policy); err != nil {
		return err
	}

	log.Debug("Report satisfies policy")

	return nil
}

func validateGuestPolicy(p snp.SnpPolicy, required snp.SnpPolicy) error {
	if compareByteVersions(required.AbiMajor, required.AbiMinor, p.AbiMajor, p.AbiMinor) > 0 {
		return violation(ViolationBelowMinimum, "policy.abi",
			"required policy ABI version (%d.%d) is greater than the report's ABI version (%d.%d)",
			required.AbiMajor, required.AbiMinor, p.AbiMajor, p.AbiMinor)
	}

	for _, c := range []struct {
		name     string
		got      bool
		required bool
	}{
		{"migration agent", p.MigrateMa, required.MigrateMa},
		{"debug", p.Debug, required.Debug},
		{"symmetric multithreading (SMT)", p.Smt, required.Smt},
		{"CXL", p.CxlAllowed, required.CxlAllowed},
	} {
		if c.got && !c.required {
			return violation(ViolationUnauthorized, "policy", "found unauthorized %v capability", c.name)
		}
	}

	for _, c := range []struct {
		name     string
		got      bool
		required bool
	}{
		{"single socket", p.SingleSocket, required.SingleSocket},
		{"AES-256-XTS memory encryption", p.MemAes256Xts, required.MemAes256Xts},
		{"RAPL disable", p.RaplDis, required.RaplDis},
		{"ciphertext hiding", p.CiphertextHiding, required.CiphertextHiding},
		{"page swap disable", p.PageSwapDisable, required.PageSwapDisable},
	} {
		if c.required && !c.got {
			return violation(ViolationMissingRequired, "policy", "required %v restriction not present", c.name)
		}
	}

	return nil
}

func validatePlatformInfo(info snp.SnpPlatformInfo, required *snp.SnpPlatformInfo) error {
	if required == nil {
		return nil
	}

	if info.SmtEnabled && !required.SmtEnabled {
		return violation(ViolationUnauthorized, "platformInfo", "unauthorized platform feature SMT enabled")
	}
	if info.TsmeEnabled && !required.TsmeEnabled {
		return violation(ViolationUnauthorized, "platformInfo", "unauthorized platform feature TSME enabled")
	}

	for _, c := range []struct {
		name     string
		got      bool
		required bool
	}{
		{"ECC", info.EccEnabled, required.EccEnabled},
		{"RAPL disabled", info.RaplDisabled, required.RaplDisabled},
		{"ciphertext hiding", info.CiphertextHidingEnabled, required.CiphertextHidingEnabled},
		{"alias check complete", info.AliasCheckComplete, required.AliasCheckComplete},
	} {
		if c.required && !c.got {
			return violation(ViolationMissingRequired, "platformInfo", "required platform feature %v not present", c.name)
		}
	}

	return nil
}

func validateVmpl(vmpl uint32, required *uint32) error {
	if vmpl > maxVmpl {
		return violation(ViolationOutOfRange, "vmpl", "report VMPL %d is not in range 0-%d", vmpl, maxVmpl)
	}
	if required == nil {
		return nil
	}
	if *required > maxVmpl {
		return violation(ViolationInvalidPolicy, "vmpl", "required VMPL %d is not in range 0-%d", *required, maxVmpl)
	}
	if vmpl != *required {
		return violation(ViolationMismatch, "vmpl", "report VMPL %d does not match required VMPL %d", vmpl, *required)
	}
	return nil
}

// validateVersion checks the current and committed firmware independently
// against the minimum and requires both to be equal
func validateVersion(r *snp.AttestationReport, policy *ReportPolicy) error {
	minMajor, minMinor := uint8(policy.MinimumVersion>>8), uint8(policy.MinimumVersion&0xff)

	for _, fw := range []struct {
		name  string
		build uint8
		major uint8
		minor uint8
	}{
		{"current", r.CurrentBuild, r.CurrentMajor, r.CurrentMinor},
		{"committed", r.CommittedBuild, r.CommittedMajor, r.CommittedMinor},
	} {
		if fw.build < policy.MinimumBuild {
			return violation(ViolationBelowMinimum, fw.name+"Build",
				"%v firmware build number %d is less than the required minimum %d",
				fw.name, fw.build, policy.MinimumBuild)
		}
		if compareByteVersions(fw.major, fw.minor, minMajor, minMinor) < 0 {
			return violation(ViolationBelowMinimum, fw.name+"Version",
				"%v firmware API version (%d.%d) is less than the required minimum (%d.%d)",
				fw.name, fw.major, fw.minor, minMajor, minMinor)
		}
	}

	if r.CommittedBuild != r.CurrentBuild {
		return violation(ViolationProvisional, "committedBuild",
			"committed build number %d does not match the current build number %d",
			r.CommittedBuild, r.CurrentBuild)
	}
	if compareByteVersions(r.CommittedMajor, r.CommittedMinor, r.CurrentMajor, r.CurrentMinor) != 0 {
		return violation(ViolationProvisional, "committedVersion",
			"committed API version (%d.%d) does not match the current API version (%d.%d)",
			r.CommittedMajor, r.CommittedMinor, r.CurrentMajor, r.CurrentMinor)
	}

	return nil
}

func validateTcb(r *snp.AttestationReport, policy *ReportPolicy) error {
	for _, t := range []struct {
		name string
		tcb  uint64
		min  snp.TCBParts
	}{
		{"currentTcb", r.CurrentTcb, policy.MinimumTcb},
		{"committedTcb", r.CommittedTcb, policy.MinimumTcb},
		{"reportedTcb", r.ReportedTcb, policy.MinimumTcb},
		{"launchTcb", r.LaunchTcb, policy.MinimumLaunchTcb},
	} {
		parts := r.Tcb(t.tcb)
		if !parts.AtLeast(t.min) {
			return violation(ViolationBelowMinimum, t.name, "TCB %v is less than the required minimum %v",
				parts, t.min)
		}
		log.Tracef("%v %v meets minimum %v", t.name, parts, t.min)
	}

	if r.CurrentTcb != r.CommittedTcb {
		return violation(ViolationProvisional, "committedTcb",
			"firmware's committed TCB 0x%016x does not match the current TCB 0x%016x",
			r.CommittedTcb, r.CurrentTcb)
	}

	return nil
}

type byteField struct {
	option   string
	size     int
	got      []byte
	required []byte
}

func validateVerbatimFields(r *snp.AttestationReport, policy *ReportPolicy) error {
	fields := []byteField{
		{"reportData", ReportDataSize, r.ReportData, policy.ReportData},
		{"hostData", HostDataSize, r.HostData, policy.HostData},
		{"measurement", MeasurementSize, r.Measurement, policy.Measurement},
		{"chipId", ChipIdSize, r.ChipId, policy.ChipId},
		{"imageId", ImageIdSize, r.ImageId, policy.ImageId},
		{"familyId", FamilyIdSize, r.FamilyId, policy.FamilyId},
		{"reportId", ReportIdSize, r.ReportId, policy.ReportId},
		{"reportIdMa", ReportIdMaSize, r.ReportIdMa, policy.ReportIdMa},
	}

	for _, f := range fields {
		if len(f.required) != 0 && len(f.required) != f.size {
			return violation(ViolationInvalidPolicy, f.option, "option %v must be empty or %d bytes, got %d",
				f.option, f.size, len(f.required))
		}
	}

	var err error
	var names []string
	for _, f := range fields {
		if len(f.required) == 0 {
			continue
		}
		if !bytes.Equal(f.got, f.required) {
			err = multierr.Append(err, fmt.Errorf("report field %v is %v. Expect %v",
				f.option, hex.EncodeToString(f.got), hex.EncodeToString(f.required)))
			names = append(names, f.option)
		}
	}
	if err != nil {
		return &PolicyViolationError{
			Kind:  ViolationMismatch,
			Field: strings.Join(names, ","),
			Err:   err,
		}
	}
	return nil
}
