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
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/Fraunhofer-AISEC/snpverify/internal"
)

// Platform provides the cryptographic primitives the verification logic is
// written against. Backends are selected when constructing a ChainValidator.
type Platform interface {
	// ParseCertificate parses a PEM or DER encoded X.509 certificate
	ParseCertificate(data []byte) (*x509.Certificate, error)
	// VerifySignature verifies a signature over signed with the public key
	// of cert. ECDSA signatures are expected in ASN.1 DER form.
	VerifySignature(cert *x509.Certificate, algo x509.SignatureAlgorithm, signed, signature []byte) error
	// Digest hashes data with the given algorithm
	Digest(alg crypto.Hash, data []byte) ([]byte, error)
}

// NativePlatform implements Platform with the Go standard library
type NativePlatform struct{}

func (NativePlatform) ParseCertificate(data []byte) (*x509.Certificate, error) {
	return internal.ParseCert(data)
}

func (NativePlatform) VerifySignature(cert *x509.Certificate, algo x509.SignatureAlgorithm, signed, signature []byte) error {
	if cert == nil {
		return fmt.Errorf("internal error: certificate is nil")
	}
	return cert.CheckSignature(algo, signed, signature)
}

func (NativePlatform) Digest(alg crypto.Hash, data []byte) ([]byte, error) {
	return internal.Hash(alg, data)
}

// checkSignedBy verifies that child was signed by the key of parent
func checkSignedBy(p Platform, child, parent *x509.Certificate) error {
	return p.VerifySignature(parent, child.SignatureAlgorithm, child.RawTBSCertificate, child.Signature)
}
