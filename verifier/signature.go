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
	"crypto/x509"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

// splitSignature returns R and S of a raw report signature as big-endian
// byte strings without leading zeros
func splitSignature(raw []byte) ([]byte, []byte, error) {
	if len(raw) != 2*snp.SignatureRSSize {
		return nil, nil, fmt.Errorf("signature size %d does not match expected size %d",
			len(raw), 2*snp.SignatureRSSize)
	}
	return bigEndian(raw[:snp.SignatureRSSize]), bigEndian(raw[snp.SignatureRSSize:]), nil
}

// bigEndian reverses the little-endian component and strips leading zeros
func bigEndian(le []byte) []byte {
	be := make([]byte, len(le))
	for i := range le {
		be[len(le)-1-i] = le[i]
	}
	for len(be) > 0 && be[0] == 0 {
		be = be[1:]
	}
	return be
}

// SignatureToDER converts the raw little-endian R || S report signature into
// an ASN.1 DER encoded ECDSA-Sig-Value
func SignatureToDER(raw []byte) ([]byte, error) {
	r, s, err := splitSignature(raw)
	if err != nil {
		return nil, err
	}
	if len(r) == 0 || len(s) == 0 {
		return nil, fmt.Errorf("signature component is zero")
	}

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(new(big.Int).SetBytes(r))
		b.AddASN1BigInt(new(big.Int).SetBytes(s))
	})
	return b.Bytes()
}

// SignatureToFixed converts the raw little-endian R || S report signature into
// the big-endian concatenation of R and S, each left padded to size bytes
func SignatureToFixed(raw []byte, size int) ([]byte, error) {
	r, s, err := splitSignature(raw)
	if err != nil {
		return nil, err
	}
	if len(r) > size || len(s) > size {
		return nil, fmt.Errorf("signature component exceeds %d bytes", size)
	}
	sig := make([]byte, 2*size)
	copy(sig[size-len(r):size], r)
	copy(sig[2*size-len(s):], s)
	return sig, nil
}

// VerifyReportSignature verifies the signature of the report with the public
// key of the VCEK
func VerifyReportSignature(p Platform, report *snp.AttestationReport, vcek *x509.Certificate) error {

	if report.SignatureAlgo != snp.SignatureAlgoEcdsaP384Sha384 {
		return &SignatureVerificationError{
			Reason: fmt.Sprintf("unsupported signature algorithm %d", report.SignatureAlgo),
		}
	}

	der, err := SignatureToDER(report.Signature)
	if err != nil {
		return &SignatureVerificationError{Reason: "malformed signature", Err: err}
	}

	err = p.VerifySignature(vcek, x509.ECDSAWithSHA384, report.SignedData, der)
	if err != nil {
		log.Debugf("Failed to verify SNP report signature: %v", err)
		return &SignatureVerificationError{Reason: "invalid signature", Err: err}
	}
	log.Debug("Successfully verified SNP report signature")

	return nil
}
