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
	"fmt"

	"github.com/google/go-sev-guest/kds"
)

// TCBParts holds the security patch levels packed into a 64-bit TCB version.
// FmcSpl is only defined for Turin.
type TCBParts struct {
	FmcSpl   uint8 `json:"fmcSpl,omitempty" yaml:"fmcSpl,omitempty"`
	BlSpl    uint8 `json:"blSpl" yaml:"blSpl"`
	TeeSpl   uint8 `json:"teeSpl" yaml:"teeSpl"`
	SnpSpl   uint8 `json:"snpSpl" yaml:"snpSpl"`
	UcodeSpl uint8 `json:"ucodeSpl" yaml:"ucodeSpl"`
}

func (t TCBParts) String() string {
	if t.FmcSpl != 0 {
		return fmt.Sprintf("fmc=%d bl=%d tee=%d snp=%d ucode=%d",
			t.FmcSpl, t.BlSpl, t.TeeSpl, t.SnpSpl, t.UcodeSpl)
	}
	return fmt.Sprintf("bl=%d tee=%d snp=%d ucode=%d", t.BlSpl, t.TeeSpl, t.SnpSpl, t.UcodeSpl)
}

// AtLeast reports whether every component of t meets the corresponding
// component of min
func (t TCBParts) AtLeast(min TCBParts) bool {
	return t.FmcSpl >= min.FmcSpl &&
		t.BlSpl >= min.BlSpl &&
		t.TeeSpl >= min.TeeSpl &&
		t.SnpSpl >= min.SnpSpl &&
		t.UcodeSpl >= min.UcodeSpl
}

// DecomposeTcb splits a packed TCB version into its parts. The layout depends
// on the product: Milan and Genoa keep BL, TEE in bytes 0 and 1, SNP in
// byte 6 and microcode in byte 7. Turin places FMC, BL, TEE and SNP in bytes
// 0 to 3. The reserved bytes are returned separately.
func DecomposeTcb(product string, tcb uint64) (TCBParts, []uint8) {
	if product == ProductTurin {
		b := tcbBytes(tcb)
		return TCBParts{
			FmcSpl:   b[0],
			BlSpl:    b[1],
			TeeSpl:   b[2],
			SnpSpl:   b[3],
			UcodeSpl: b[7],
		}, b[4:7]
	}
	p := kds.DecomposeTCBVersion(kds.TCBVersion(tcb))
	return TCBParts{
		BlSpl:    p.BlSpl,
		TeeSpl:   p.TeeSpl,
		SnpSpl:   p.SnpSpl,
		UcodeSpl: p.UcodeSpl,
	}, []uint8{p.Spl4, p.Spl5, p.Spl6, p.Spl7}
}

// ComposeTcb packs the parts into a TCB version for the given product
func ComposeTcb(product string, t TCBParts) uint64 {
	var b [8]byte
	if product == ProductTurin {
		b[0], b[1], b[2], b[3] = t.FmcSpl, t.BlSpl, t.TeeSpl, t.SnpSpl
	} else {
		b[0], b[1], b[6] = t.BlSpl, t.TeeSpl, t.SnpSpl
	}
	b[7] = t.UcodeSpl

	var tcb uint64
	for i := 7; i >= 0; i-- {
		tcb = tcb<<8 | uint64(b[i])
	}
	return tcb
}

func tcbBytes(tcb uint64) []uint8 {
	b := make([]uint8, 8)
	for i := range b {
		b[i] = uint8(tcb >> (8 * i))
	}
	return b
}
