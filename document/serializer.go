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

package document

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/Fraunhofer-AISEC/snpverify/internal"
)

// Serializer is a generic interface providing methods for data serialization
// and de-serialization. This enables exporting signed documents in different
// formats, such as JSON/JWS or CBOR/COSE
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Sign(data []byte, signer *Signer) ([]byte, error)
	Verify(data []byte, roots []*x509.Certificate) ([]byte, error)
	String() string
}

func DetectSerialization(payload []byte) (Serializer, error) {
	if json.Valid(payload) {
		return JsonSerializer{}, nil
	} else if err := cbor.Valid(payload); err == nil {
		return CborSerializer{}, nil
	} else {
		return nil, fmt.Errorf("failed to detect serialization")
	}
}

// NewSerializer returns the serializer for the name "json" or "cbor"
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case "json", "":
		return JsonSerializer{}, nil
	case "cbor":
		return CborSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serialization %q", name)
	}
}

// Signer holds the key and the certificate chain, leaf first, a document is
// signed with
type Signer struct {
	Key   crypto.Signer
	Certs []*x509.Certificate
}

// LoadSigner reads a PEM encoded private key and a PEM encoded certificate
// chain, leaf first
func LoadSigner(keyFile, certFile string) (*Signer, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", keyFile, err)
	}
	certData, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", certFile, err)
	}

	key, err := parsePrivateKey(internal.DerFromPem(keyData))
	if err != nil {
		return nil, err
	}
	certs, err := internal.ParseCertsPem(certData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing certificates: %w", err)
	}

	return NewSigner(key, certs)
}

func NewSigner(key crypto.Signer, certs []*x509.Certificate) (*Signer, error) {
	if len(certs) == 0 {
		return nil, errors.New("no signing certificates provided")
	}
	leaf, err := x509.MarshalPKIXPublicKey(certs[0].PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal certificate public key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signing public key: %w", err)
	}
	if string(leaf) != string(pub) {
		return nil, errors.New("signing key does not match leaf certificate")
	}
	return &Signer{Key: key, Certs: certs}, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		s, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return s, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("failed to parse private key")
}

func rawCerts(certs []*x509.Certificate) [][]byte {
	raw := make([][]byte, 0, len(certs))
	for _, c := range certs {
		raw = append(raw, c.Raw)
	}
	return raw
}

func verifyChain(certs []*x509.Certificate, roots []*x509.Certificate) (*x509.Certificate, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificates present")
	}
	if len(roots) == 0 {
		return nil, errors.New("no trusted roots provided")
	}
	opts := x509.VerifyOptions{
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		Roots:         x509.NewCertPool(),
		Intermediates: x509.NewCertPool(),
	}
	for _, r := range roots {
		opts.Roots.AddCert(r)
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return nil, fmt.Errorf("failed to verify certificate chain: %w", err)
	}
	return certs[0], nil
}
