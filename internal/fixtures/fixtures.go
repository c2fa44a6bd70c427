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

// Package fixtures holds a synthetic ARK/ASK/VCEK chain carrying the AMD
// distinguished names and VCEK extensions together with a version 2
// attestation report signed by the test VCEK. The certificates are valid
// from October 2026 for twenty years.
package fixtures

import (
	_ "embed"
	"time"
)

var (
	//go:embed ark.pem
	ArkPem []byte

	//go:embed ask.pem
	AskPem []byte

	// AskOtherPem is a valid ASK signed by the test ARK but with a key that
	// did not sign the VCEK
	//go:embed ask_other.pem
	AskOtherPem []byte

	// FakePem is self-signed by the ARK key with CN=SEV-FAKE
	//go:embed fake.pem
	FakePem []byte

	//go:embed vcek.der
	VcekDer []byte

	// VcekMilanDer carries the product name extension "Milan"
	//go:embed vcek_milan.der
	VcekMilanDer []byte

	// VcekCspDer carries a CSP ID extension as found in VLEK certificates
	//go:embed vcek_csp.der
	VcekCspDer []byte

	// VcekSha256Der is signed with SHA256-RSA instead of RSASSA-PSS
	//go:embed vcek_sha256.der
	VcekSha256Der []byte

	//go:embed report.bin
	Report []byte

	// CrlOtherDer is an ARK-issued CRL revoking the ASK of AskOtherPem
	//go:embed crl_other.der
	CrlOtherDer []byte

	// CrlAskDer is an ARK-issued CRL revoking both ASKs
	//go:embed crl_ask.der
	CrlAskDer []byte
)

// Values contained in Report
const (
	Measurement   = "2c6dc52fe13c277375ac9c65f7d1d61e1df6c141d2b3e55ea83a9c7446faad7fcd849d3405adf440799656b9e77ca85a"
	TlsKeyFp      = "78967bc1cb8d6426a326fa2ab7b3302723e914cf5e22daa89ba3e0d5131d8372"
	HpkeKey       = "70d60046c962391cc5a29b16e9000dbe17671e80192e258c646f105c66073bb4"
	HostData      = "7e8046654250d7e6153e6917ee8e46452ef2a0eb5e498edaa44aba1f0bb5194e"
	ReportId      = "c45cf10df3de4e0b43d71de4dfc3af4ee56a64388536cda46dc00e9e2520cd6a"
	Policy        = 0x30000
	PlatformInfo  = 0x3
	GuestSvn      = 1
	BlSpl         = 9
	TeeSpl        = 0
	SnpSpl        = 23
	UcodeSpl      = 216
	FirmwareBuild = 22
	FirmwareMajor = 1
	FirmwareMinor = 55
)

// ArkFingerprint is the hex encoded SHA-256 fingerprint of ArkPem
const ArkFingerprint = "ab1ae8a0f29fe206a2444765df222748e82183d206c31210c7292ea806a7d343"

// CertChain returns the ASK and ARK in the cert_chain format of the AMD KDS
func CertChain() []byte {
	chain := make([]byte, 0, len(AskPem)+len(ArkPem))
	chain = append(chain, AskPem...)
	return append(chain, ArkPem...)
}

// ChipId returns the hardware ID contained in the report and the VCEK
func ChipId() []byte {
	id := make([]byte, 64)
	for i := range id {
		id[i] = byte(i*7 + 3)
	}
	return id
}

// FamilyId returns the family ID contained in the report
func FamilyId() []byte {
	return seq(0x10, 16)
}

// ImageId returns the image ID contained in the report
func ImageId() []byte {
	return seq(0x20, 16)
}

// Now returns a point in time within the validity of all fixture certificates
func Now() time.Time {
	return time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func seq(start byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}
