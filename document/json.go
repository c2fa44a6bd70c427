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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

var jwsAlgorithms = []jose.SignatureAlgorithm{
	jose.ES256, jose.ES384, jose.ES512, jose.PS256, jose.PS384, jose.PS512,
}

// JsonSerializer produces JSON documents signed as JSON Web Signature
type JsonSerializer struct{}

func (s JsonSerializer) String() string {
	return "JSON"
}

func (s JsonSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s JsonSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Sign wraps data into a JWS in JSON serialization carrying the signer's
// certificate chain in the x5c header
func (s JsonSerializer) Sign(data []byte, signer *Signer) ([]byte, error) {

	log.Trace("Signing document")

	alg, err := algFromKeyType(signer.Key.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to get alg from key type: %w", err)
	}
	log.Trace("Chosen signature algorithm: ", alg)

	var opt jose.SignerOptions
	joseSigner, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: signer.Key},
		opt.WithHeader("x5c", rawCerts(signer.Certs)))
	if err != nil {
		return nil, fmt.Errorf("failed to setup signer for the document: %w", err)
	}

	obj, err := joseSigner.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign the document: %w", err)
	}

	return []byte(obj.FullSerialize()), nil
}

// Verify verifies the JWS signature and the x5c certificate chain against
// roots and returns the payload
func (s JsonSerializer) Verify(data []byte, roots []*x509.Certificate) ([]byte, error) {

	jws, err := jose.ParseSigned(string(data), jwsAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("data could not be parsed: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("expected one signature, got %v", len(jws.Signatures))
	}

	certs, err := jws.Signatures[0].Protected.Certificates(x509.VerifyOptions{
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		Roots:     pool(roots),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify certificate chain: %w", err)
	}

	payload, err := jws.Verify(certs[0][0].PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	log.Debug("Successfully verified JWS object")

	return payload, nil
}

func pool(certs []*x509.Certificate) *x509.CertPool {
	p := x509.NewCertPool()
	for _, c := range certs {
		p.AddCert(c)
	}
	return p
}

// Deduces jose signature algorithm from provided key type
func algFromKeyType(pub crypto.PublicKey) (jose.SignatureAlgorithm, error) {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		switch key.Size() {
		case 256:
			return jose.PS256, nil
		case 384:
			return jose.PS384, nil
		case 512:
			return jose.PS512, nil
		default:
			return "", fmt.Errorf("failed to determine algorithm from key type: unknown RSA key size: %v", key.Size())
		}
	case *ecdsa.PublicKey:
		switch key.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		default:
			return "", errors.New("failed to determine algorithm from key type: unknown elliptic curve")
		}
	default:
		return "", errors.New("failed to determine algorithm from key type: unknown key type")
	}
}
