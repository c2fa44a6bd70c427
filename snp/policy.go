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

package snp

import (
	"github.com/Fraunhofer-AISEC/snpverify/internal"
)

// Guest policy bit positions, SEV-SNP ABI specification table 9
const (
	policySmtBit              = 16
	policyReservedOneBit      = 17
	policyMigrateMaBit        = 18
	policyDebugBit            = 19
	policySingleSocketBit     = 20
	policyCxlAllowedBit       = 21
	policyMemAes256XtsBit     = 22
	policyRaplDisBit          = 23
	policyCiphertextHidingBit = 24
	policyPageSwapDisableBit  = 25
	policyMaxBit              = policyPageSwapDisableBit
)

// Platform info bit positions
const (
	platformSmtEnabledBit         = 0
	platformTsmeEnabledBit        = 1
	platformEccEnabledBit         = 2
	platformRaplDisabledBit       = 3
	platformCiphertextHidingBit   = 4
	platformAliasCheckCompleteBit = 5
	platformMaxBit                = platformAliasCheckCompleteBit
)

// Signer info bit positions
const (
	signerAuthorKeyBit   = 0
	signerMaskChipKeyBit = 1
	signerMaxBit         = 4
)

// SnpPolicy is the decoded guest policy
type SnpPolicy struct {
	AbiMinor         uint8 `json:"abiMinor" yaml:"abiMinor"`
	AbiMajor         uint8 `json:"abiMajor" yaml:"abiMajor"`
	Smt              bool  `json:"smt" yaml:"smt"`
	MigrateMa        bool  `json:"migrateMa" yaml:"migrateMa"`
	Debug            bool  `json:"debug" yaml:"debug"`
	SingleSocket     bool  `json:"singleSocket" yaml:"singleSocket"`
	CxlAllowed       bool  `json:"cxlAllowed" yaml:"cxlAllowed"`
	MemAes256Xts     bool  `json:"memAes256Xts" yaml:"memAes256Xts"`
	RaplDis          bool  `json:"raplDis" yaml:"raplDis"`
	CiphertextHiding bool  `json:"ciphertextHiding" yaml:"ciphertextHiding"`
	PageSwapDisable  bool  `json:"pageSwapDisable" yaml:"pageSwapDisable"`
}

// SnpPlatformInfo is the decoded platform info field
type SnpPlatformInfo struct {
	SmtEnabled              bool `json:"smtEnabled" yaml:"smtEnabled"`
	TsmeEnabled             bool `json:"tsmeEnabled" yaml:"tsmeEnabled"`
	EccEnabled              bool `json:"eccEnabled" yaml:"eccEnabled"`
	RaplDisabled            bool `json:"raplDisabled" yaml:"raplDisabled"`
	CiphertextHidingEnabled bool `json:"ciphertextHidingEnabled" yaml:"ciphertextHidingEnabled"`
	AliasCheckComplete      bool `json:"aliasCheckComplete" yaml:"aliasCheckComplete"`
}

// SignerInfo is the decoded key selection field at offset 0x48
type SignerInfo struct {
	SigningKey       internal.KeyType
	MaskChipKey      bool
	AuthorKeyEnabled bool
}

func bit(v uint64, n uint) bool {
	return v&(1<<n) != 0
}

// ParsePolicy decodes the guest policy. Bit 17 must be one and all bits above
// the highest defined bit must be zero.
func ParsePolicy(policy uint64) (SnpPolicy, error) {
	if policy>>(policyMaxBit+1) != 0 {
		return SnpPolicy{}, parseErr(ErrReserved, "policy",
			"reserved bits 63:%d are not zero: 0x%x", policyMaxBit+1, policy)
	}
	if !bit(policy, policyReservedOneBit) {
		return SnpPolicy{}, parseErr(ErrReserved, "policy",
			"reserved bit %d must be one: 0x%x", policyReservedOneBit, policy)
	}
	return SnpPolicy{
		AbiMinor:         uint8(policy & 0xff),
		AbiMajor:         uint8((policy >> 8) & 0xff),
		Smt:              bit(policy, policySmtBit),
		MigrateMa:        bit(policy, policyMigrateMaBit),
		Debug:            bit(policy, policyDebugBit),
		SingleSocket:     bit(policy, policySingleSocketBit),
		CxlAllowed:       bit(policy, policyCxlAllowedBit),
		MemAes256Xts:     bit(policy, policyMemAes256XtsBit),
		RaplDis:          bit(policy, policyRaplDisBit),
		CiphertextHiding: bit(policy, policyCiphertextHidingBit),
		PageSwapDisable:  bit(policy, policyPageSwapDisableBit),
	}, nil
}

// ParsePlatformInfo decodes the platform info field
func ParsePlatformInfo(info uint64) (SnpPlatformInfo, error) {
	if info>>(platformMaxBit+1) != 0 {
		return SnpPlatformInfo{}, parseErr(ErrReserved, "platform info",
			"reserved bits 63:%d are not zero: 0x%x", platformMaxBit+1, info)
	}
	return SnpPlatformInfo{
		SmtEnabled:              bit(info, platformSmtEnabledBit),
		TsmeEnabled:             bit(info, platformTsmeEnabledBit),
		EccEnabled:              bit(info, platformEccEnabledBit),
		RaplDisabled:            bit(info, platformRaplDisabledBit),
		CiphertextHidingEnabled: bit(info, platformCiphertextHidingBit),
		AliasCheckComplete:      bit(info, platformAliasCheckCompleteBit),
	}, nil
}

// ParseSignerInfo decodes the key selection field. Only reports signed with
// the VCEK are accepted.
func ParseSignerInfo(info uint32) (SignerInfo, error) {
	if uint64(info)>>(signerMaxBit+1) != 0 {
		return SignerInfo{}, parseErr(ErrReserved, "signer info",
			"reserved bits 31:%d are not zero: 0x%x", signerMaxBit+1, info)
	}
	key, err := internal.GetKeyType(info)
	if err != nil {
		return SignerInfo{}, &ParseError{Kind: ErrSigningKey, Field: "signer info", Err: err}
	}
	if key != internal.VCEK {
		return SignerInfo{}, parseErr(ErrSigningKey, "signer info",
			"unsupported signing key %v, only %v is supported", key, internal.VCEK)
	}
	return SignerInfo{
		SigningKey:       key,
		MaskChipKey:      bit(uint64(info), signerMaskChipKeyBit),
		AuthorKeyEnabled: bit(uint64(info), signerAuthorKeyBit),
	}, nil
}
