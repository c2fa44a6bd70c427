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
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "snp")

const (
	ReportSize      = 0x4A0
	SignatureOffset = 0x2A0
	SignatureSize   = 0x90
	SignatureRSSize = 72

	minVersion = 2
	maxVersion = 5
)

// SignatureAlgoEcdsaP384Sha384 is the only signature algorithm defined for reports
const SignatureAlgoEcdsaP384Sha384 = 1

type rawReport struct {
	// Table 23 @ https://www.amd.com/content/dam/amd/en/documents/developer/56860.pdf
	Version          uint32    // 000h
	GuestSvn         uint32    // 004h
	Policy           uint64    // 008h
	FamilyId         [16]byte  // 010h
	ImageId          [16]byte  // 020h
	Vmpl             uint32    // 030h
	SignatureAlgo    uint32    // 034h
	CurrentTcb       uint64    // 038h
	PlatformInfo     uint64    // 040h
	SignerInfo       uint32    // 048h
	Reserved1        uint32    // 04Ch
	ReportData       [64]byte  // 050h
	Measurement      [48]byte  // 090h
	HostData         [32]byte  // 0C0h
	IdKeyDigest      [48]byte  // 0E0h
	AuthorKeyDigest  [48]byte  // 110h
	ReportId         [32]byte  // 140h
	ReportIdMa       [32]byte  // 160h
	ReportedTcb      uint64    // 180h
	CpuFamily        uint8     // 188h (Version >= 3)
	CpuModel         uint8     // 189h (Version >= 3)
	CpuStepping      uint8     // 18Ah (Version >= 3)
	Reserved2        [21]byte  // 18Bh
	ChipId           [64]byte  // 1A0h
	CommittedTcb     uint64    // 1E0h
	CurrentBuild     uint8     // 1E8h
	CurrentMinor     uint8     // 1E9h
	CurrentMajor     uint8     // 1EAh
	Reserved3a       uint8     // 1EBh
	CommittedBuild   uint8     // 1ECh
	CommittedMinor   uint8     // 1EDh
	CommittedMajor   uint8     // 1EEh
	Reserved3b       uint8     // 1EFh
	LaunchTcb        uint64    // 1F0h
	LaunchMitVector  uint64    // 1F8h (Version >= 5)
	CurrentMitVector uint64    // 200h (Version >= 5)
	Reserved3c       [152]byte // 208h
	SignatureR       [72]byte  // 2A0h
	SignatureS       [72]byte  // 2E8h
	Reserved4        [368]byte // 330h
}

// AttestationReport is a parsed SEV-SNP attestation report. It is not
// modified after Parse returns.
type AttestationReport struct {
	Version         uint32
	GuestSvn        uint32
	PolicyRaw       uint64
	Policy          SnpPolicy
	FamilyId        []byte
	ImageId         []byte
	Vmpl            uint32
	SignatureAlgo   uint32
	CurrentTcb      uint64
	PlatformInfoRaw uint64
	PlatformInfo    SnpPlatformInfo
	SignerInfoRaw   uint32
	SignerInfo      SignerInfo
	ReportData      []byte
	Measurement     []byte
	HostData        []byte
	IdKeyDigest     []byte
	AuthorKeyDigest []byte
	ReportId        []byte
	ReportIdMa      []byte
	ReportedTcb     uint64
	Product         Product
	ChipId          []byte
	CommittedTcb    uint64
	CurrentBuild    uint8
	CurrentMinor    uint8
	CurrentMajor    uint8
	CommittedBuild  uint8
	CommittedMinor  uint8
	CommittedMajor  uint8
	LaunchTcb       uint64
	// Only set for version 5 and later
	LaunchMitVector  uint64
	CurrentMitVector uint64

	// SignedData is the report up to the signature, which is what the VCEK signs
	SignedData []byte
	// Signature is the raw R || S in little-endian byte order, 72 bytes each
	Signature []byte
}

// Parse decodes a binary SEV-SNP attestation report. Data longer than the
// report size is accepted, everything after the report is ignored.
func Parse(data []byte) (*AttestationReport, error) {

	if len(data) < ReportSize {
		return nil, parseErr(ErrSize, "", "report size %d is smaller than %d bytes", len(data), ReportSize)
	}
	data = data[:ReportSize]

	var s rawReport
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &s)
	if err != nil {
		return nil, &ParseError{Kind: ErrDecode, Err: err}
	}

	log.Tracef("Parsing SNP report version %v", s.Version)

	if s.Version < minVersion || s.Version > maxVersion {
		return nil, parseErr(ErrVersion, "version", "unsupported report version %d (supported %d-%d)",
			s.Version, minVersion, maxVersion)
	}

	if err := checkReserved(&s); err != nil {
		return nil, err
	}

	product := genoaV2
	if s.Version >= 3 {
		product = Product{
			Name:     GetCodeName(s.CpuFamily, s.CpuModel),
			Family:   s.CpuFamily,
			Model:    s.CpuModel,
			Stepping: s.CpuStepping,
		}
	}
	log.Tracef("Report product: %v (family 0x%x, model 0x%x, stepping 0x%x)",
		product.Name, product.Family, product.Model, product.Stepping)

	for _, tcb := range []struct {
		name string
		v    uint64
	}{
		{"current TCB", s.CurrentTcb},
		{"reported TCB", s.ReportedTcb},
		{"committed TCB", s.CommittedTcb},
		{"launch TCB", s.LaunchTcb},
	} {
		_, reserved := DecomposeTcb(product.Name, tcb.v)
		if !isZero(reserved) {
			return nil, parseErr(ErrReserved, tcb.name, "reserved bytes are not zero: 0x%016x", tcb.v)
		}
	}

	policy, err := ParsePolicy(s.Policy)
	if err != nil {
		return nil, err
	}
	platformInfo, err := ParsePlatformInfo(s.PlatformInfo)
	if err != nil {
		return nil, err
	}
	signerInfo, err := ParseSignerInfo(s.SignerInfo)
	if err != nil {
		return nil, err
	}

	r := &AttestationReport{
		Version:          s.Version,
		GuestSvn:         s.GuestSvn,
		PolicyRaw:        s.Policy,
		Policy:           policy,
		FamilyId:         clone(s.FamilyId[:]),
		ImageId:          clone(s.ImageId[:]),
		Vmpl:             s.Vmpl,
		SignatureAlgo:    s.SignatureAlgo,
		CurrentTcb:       s.CurrentTcb,
		PlatformInfoRaw:  s.PlatformInfo,
		PlatformInfo:     platformInfo,
		SignerInfoRaw:    s.SignerInfo,
		SignerInfo:       signerInfo,
		ReportData:       clone(s.ReportData[:]),
		Measurement:      clone(s.Measurement[:]),
		HostData:         clone(s.HostData[:]),
		IdKeyDigest:      clone(s.IdKeyDigest[:]),
		AuthorKeyDigest:  clone(s.AuthorKeyDigest[:]),
		ReportId:         clone(s.ReportId[:]),
		ReportIdMa:       clone(s.ReportIdMa[:]),
		ReportedTcb:      s.ReportedTcb,
		Product:          product,
		ChipId:           clone(s.ChipId[:]),
		CommittedTcb:     s.CommittedTcb,
		CurrentBuild:     s.CurrentBuild,
		CurrentMinor:     s.CurrentMinor,
		CurrentMajor:     s.CurrentMajor,
		CommittedBuild:   s.CommittedBuild,
		CommittedMinor:   s.CommittedMinor,
		CommittedMajor:   s.CommittedMajor,
		LaunchTcb:        s.LaunchTcb,
		LaunchMitVector:  s.LaunchMitVector,
		CurrentMitVector: s.CurrentMitVector,
		SignedData:       clone(data[:SignatureOffset]),
		Signature:        clone(data[SignatureOffset : SignatureOffset+SignatureSize]),
	}

	log.Tracef("Parsed SNP report with measurement %v", hex.EncodeToString(r.Measurement))

	return r, nil
}

// Tcb returns the decoded parts of a packed TCB version of this report
func (r *AttestationReport) Tcb(tcb uint64) TCBParts {
	t, _ := DecomposeTcb(r.Product.Name, tcb)
	return t
}

func checkReserved(s *rawReport) error {
	if s.Reserved1 != 0 {
		return parseErr(ErrReserved, "0x04C-0x04F", "reserved bytes are not zero: 0x%08x", s.Reserved1)
	}
	if s.Version < 3 {
		if s.CpuFamily != 0 || s.CpuModel != 0 || s.CpuStepping != 0 || !isZero(s.Reserved2[:]) {
			return parseErr(ErrReserved, "0x188-0x19F", "reserved bytes are not zero")
		}
	} else if !isZero(s.Reserved2[:]) {
		return parseErr(ErrReserved, "0x18B-0x19F", "reserved bytes are not zero")
	}
	if s.Reserved3a != 0 {
		return parseErr(ErrReserved, "0x1EB", "reserved byte is not zero: 0x%02x", s.Reserved3a)
	}
	if s.Reserved3b != 0 {
		return parseErr(ErrReserved, "0x1EF", "reserved byte is not zero: 0x%02x", s.Reserved3b)
	}
	if s.Version < 5 && (s.LaunchMitVector != 0 || s.CurrentMitVector != 0) {
		return parseErr(ErrReserved, "0x1F8-0x207", "reserved bytes are not zero")
	}
	if !isZero(s.Reserved3c[:]) {
		return parseErr(ErrReserved, "0x208-0x29F", "reserved bytes are not zero")
	}
	if !isZero(s.Reserved4[:]) {
		return parseErr(ErrReserved, "0x330-0x49F", "reserved bytes are not zero")
	}
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
