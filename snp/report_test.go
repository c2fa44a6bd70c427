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
	"compress/gzip"
	"encoding/binary"
	"encoding/hex"
	"io"
	"testing"

	"github.com/Fraunhofer-AISEC/snpverify/internal"
	"github.com/Fraunhofer-AISEC/snpverify/internal/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report() []byte {
	return bytes.Clone(fixtures.Report)
}

func TestParse(t *testing.T) {
	r, err := Parse(fixtures.Report)
	require.NoError(t, err)

	assert.Equal(t, uint32(2), r.Version)
	assert.Equal(t, ProductGenoa, r.Product.Name)
	assert.Equal(t, fixtures.Measurement, hex.EncodeToString(r.Measurement))
	assert.Equal(t, fixtures.HostData, hex.EncodeToString(r.HostData))
	assert.Equal(t, fixtures.ReportId, hex.EncodeToString(r.ReportId))
	assert.Equal(t, fixtures.TlsKeyFp, hex.EncodeToString(r.ReportData[:32]))
	assert.Equal(t, fixtures.HpkeKey, hex.EncodeToString(r.ReportData[32:]))
	assert.Equal(t, fixtures.ChipId(), r.ChipId)
	assert.Equal(t, fixtures.FamilyId(), r.FamilyId)
	assert.Equal(t, fixtures.ImageId(), r.ImageId)
	assert.Equal(t, uint32(fixtures.GuestSvn), r.GuestSvn)
	assert.Equal(t, uint32(0), r.Vmpl)
	assert.Equal(t, uint32(SignatureAlgoEcdsaP384Sha384), r.SignatureAlgo)

	wantTcb := TCBParts{
		BlSpl:    fixtures.BlSpl,
		TeeSpl:   fixtures.TeeSpl,
		SnpSpl:   fixtures.SnpSpl,
		UcodeSpl: fixtures.UcodeSpl,
	}
	assert.Equal(t, wantTcb, r.Tcb(r.ReportedTcb))
	assert.Equal(t, wantTcb, r.Tcb(r.CurrentTcb))
	assert.Equal(t, wantTcb, r.Tcb(r.CommittedTcb))
	assert.Equal(t, wantTcb, r.Tcb(r.LaunchTcb))

	assert.Equal(t, SnpPolicy{Smt: true}, r.Policy)
	assert.Equal(t, SnpPlatformInfo{SmtEnabled: true, TsmeEnabled: true}, r.PlatformInfo)
	assert.Equal(t, SignerInfo{SigningKey: internal.VCEK}, r.SignerInfo)

	assert.Equal(t, uint8(fixtures.FirmwareBuild), r.CurrentBuild)
	assert.Equal(t, uint8(fixtures.FirmwareMajor), r.CommittedMajor)
	assert.Equal(t, uint8(fixtures.FirmwareMinor), r.CommittedMinor)

	assert.Equal(t, fixtures.Report[:SignatureOffset], r.SignedData)
	assert.Len(t, r.Signature, SignatureSize)
}

func TestParseDeterministic(t *testing.T) {
	a, err := Parse(fixtures.Report)
	require.NoError(t, err)
	b, err := Parse(fixtures.Report)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseTrailingData(t *testing.T) {
	data := append(report(), make([]byte, 0x1000)...)
	r, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Measurement, hex.EncodeToString(r.Measurement))
}

func TestParseGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(fixtures.Report)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	r, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Measurement, hex.EncodeToString(r.Measurement))
}

func TestParseSize(t *testing.T) {
	for _, size := range []int{0, 1, SignatureOffset, ReportSize - 1} {
		_, err := Parse(fixtures.Report[:size])
		kind, ok := IsParseError(err)
		if !ok || kind != ErrSize {
			t.Errorf("Parse() with %d bytes error = %v, want size error", size, err)
		}
	}
}

func TestParseReserved(t *testing.T) {
	tests := []struct {
		name   string
		modify func(b []byte)
	}{
		{"Reserved 0x4C", func(b []byte) { b[0x4C] = 1 }},
		{"Reserved 0x4F", func(b []byte) { b[0x4F] = 0x80 }},
		{"CPUID In Version 2", func(b []byte) { b[0x188] = 0x19 }},
		{"Reserved 0x19F", func(b []byte) { b[0x19F] = 1 }},
		{"Reserved 0x1EB", func(b []byte) { b[0x1EB] = 1 }},
		{"Reserved 0x1EF", func(b []byte) { b[0x1EF] = 1 }},
		{"Mitigation Vector In Version 2", func(b []byte) { b[0x1F8] = 1 }},
		{"Reserved 0x208", func(b []byte) { b[0x208] = 1 }},
		{"Reserved 0x29F", func(b []byte) { b[0x29F] = 1 }},
		{"Signature Tail", func(b []byte) { b[0x330] = 1 }},
		{"Reserved 0x49F", func(b []byte) { b[0x49F] = 1 }},
		{"Policy Bit 26", func(b []byte) { b[0x0B] |= 0x04 }},
		{"Policy Bit 63", func(b []byte) { b[0x0F] |= 0x80 }},
		{"Policy Bit 17 Cleared", func(b []byte) { b[0x0A] &^= 0x02 }},
		{"Current TCB Reserved", func(b []byte) { b[0x38+2] = 1 }},
		{"Reported TCB Reserved", func(b []byte) { b[0x180+5] = 1 }},
		{"Committed TCB Reserved", func(b []byte) { b[0x1E0+3] = 1 }},
		{"Launch TCB Reserved", func(b []byte) { b[0x1F0+4] = 1 }},
		{"Platform Info Bit 6", func(b []byte) { b[0x40] |= 0x40 }},
		{"Signer Info Bit 5", func(b []byte) { b[0x48] |= 0x20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := report()
			tt.modify(b)
			_, err := Parse(b)
			kind, ok := IsParseError(err)
			if !ok || kind != ErrReserved {
				t.Errorf("Parse() error = %v, want reserved error", err)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name        string
		version     uint32
		family      uint8
		model       uint8
		wantProduct string
		wantErr     bool
	}{
		{name: "Version 1", version: 1, wantErr: true},
		{name: "Version 6", version: 6, wantErr: true},
		{name: "Version 3 Genoa", version: 3, family: 0x19, model: 0x11, wantProduct: ProductGenoa},
		{name: "Version 3 Bergamo", version: 3, family: 0x19, model: 0xA0, wantProduct: ProductGenoa},
		{name: "Version 3 Milan", version: 3, family: 0x19, model: 0x01, wantProduct: ProductMilan},
		{name: "Version 3 Unknown", version: 3, family: 0x17, model: 0x01, wantProduct: ProductUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := report()
			binary.LittleEndian.PutUint32(b[0:], tt.version)
			b[0x188] = tt.family
			b[0x189] = tt.model
			r, err := Parse(b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				kind, _ := IsParseError(err)
				assert.Equal(t, ErrVersion, kind)
				return
			}
			assert.Equal(t, tt.wantProduct, r.Product.Name)
			assert.Equal(t, tt.family, r.Product.Family)
			assert.Equal(t, tt.model, r.Product.Model)
		})
	}
}

func TestParseSignerInfo(t *testing.T) {
	tests := []struct {
		name     string
		info     byte
		want     SignerInfo
		wantKind ParseErrorKind
		wantErr  bool
	}{
		{name: "VCEK", info: 0x0, want: SignerInfo{SigningKey: internal.VCEK}},
		{name: "VCEK Author Key", info: 0x1, want: SignerInfo{SigningKey: internal.VCEK, AuthorKeyEnabled: true}},
		{name: "VCEK Mask Chip Key", info: 0x2, want: SignerInfo{SigningKey: internal.VCEK, MaskChipKey: true}},
		{name: "VLEK", info: 0x4, wantKind: ErrSigningKey, wantErr: true},
		{name: "None", info: 0x1C, wantKind: ErrSigningKey, wantErr: true},
		{name: "Reserved Key", info: 0x08, wantKind: ErrSigningKey, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignerInfo(uint32(tt.info))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSignerInfo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				kind, _ := IsParseError(err)
				assert.Equal(t, tt.wantKind, kind)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy(0x1F_0000 | 0x0103)
	require.NoError(t, err)
	assert.Equal(t, SnpPolicy{
		AbiMinor:     3,
		AbiMajor:     1,
		Smt:          true,
		MigrateMa:    true,
		Debug:        true,
		SingleSocket: true,
	}, p)

	p, err = ParsePolicy(1<<17 | 1<<21 | 1<<22 | 1<<23 | 1<<24 | 1<<25)
	require.NoError(t, err)
	assert.True(t, p.CxlAllowed)
	assert.True(t, p.MemAes256Xts)
	assert.True(t, p.RaplDis)
	assert.True(t, p.CiphertextHiding)
	assert.True(t, p.PageSwapDisable)
	assert.False(t, p.Smt)
}
