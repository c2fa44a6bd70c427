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
	"crypto/rand"
	"crypto/x509"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// CborSerializer produces CBOR documents signed as COSE_Sign
type CborSerializer struct{}

func (s CborSerializer) String() string {
	return "CBOR"
}

func (s CborSerializer) Marshal(v any) ([]byte, error) {
	log.Tracef("Marshalling data using %v serialization", s.String())
	return cbor.Marshal(v)
}

func (s CborSerializer) Unmarshal(data []byte, v any) error {
	log.Tracef("Unmarshalling data using %v serialization", s.String())
	return cbor.Unmarshal(data, v)
}

func (s CborSerializer) Sign(data []byte, signer *Signer) ([]byte, error) {

	log.Debugf("Signing CBOR data length %v...", len(data))

	alg, err := coseAlg(signer.Key.Public())
	if err != nil {
		return nil, err
	}

	coseSigner, err := cose.NewSigner(alg, signer.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	sigHolder := cose.NewSignature()
	sigHolder.Headers.Protected.SetAlgorithm(alg)
	sigHolder.Headers.Unprotected[cose.HeaderLabelX5Chain] = rawCerts(signer.Certs)

	msgToSign := cose.NewSignMessage()
	msgToSign.Payload = data
	msgToSign.Signatures = append(msgToSign.Signatures, sigHolder)

	if err := msgToSign.Sign(rand.Reader, nil, coseSigner); err != nil {
		return nil, fmt.Errorf("signing failed: %w. len(data): %v", err, len(data))
	}

	coseRaw, err := msgToSign.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cbor object: %w", err)
	}

	log.Trace("Signing finished")

	return coseRaw, nil
}

// Verify verifies the COSE_Sign signature and the x5chain certificate chain
// against roots and returns the payload
func (s CborSerializer) Verify(data []byte, roots []*x509.Certificate) ([]byte, error) {

	var msg cose.SignMessage
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal COSE message: %w", err)
	}
	if len(msg.Signatures) != 1 {
		return nil, fmt.Errorf("expected one signature, got %v", len(msg.Signatures))
	}
	sig := msg.Signatures[0]

	certs, err := x5chain(sig.Headers.Unprotected[cose.HeaderLabelX5Chain])
	if err != nil {
		return nil, err
	}
	leaf, err := verifyChain(certs, roots)
	if err != nil {
		return nil, err
	}

	alg, err := sig.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("failed to get signature algorithm: %w", err)
	}
	expected, err := coseAlg(leaf.PublicKey)
	if err != nil {
		return nil, err
	}
	if alg != expected {
		return nil, fmt.Errorf("signature algorithm %v does not match certificate key (%v)", alg, expected)
	}

	verifier, err := cose.NewVerifier(alg, leaf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("error verifying cbor signature: %w", err)
	}

	log.Debug("Successfully verified COSE object")

	return msg.Payload, nil
}

func x5chain(header any) ([]*x509.Certificate, error) {
	var raw [][]byte
	switch h := header.(type) {
	case []byte:
		raw = [][]byte{h}
	case []any:
		for _, c := range h {
			b, ok := c.([]byte)
			if !ok {
				return nil, fmt.Errorf("failed to decode certificate chain")
			}
			raw = append(raw, b)
		}
	default:
		return nil, fmt.Errorf("failed to parse x5chain header")
	}

	certs := make([]*x509.Certificate, 0, len(raw))
	for _, b := range raw {
		c, err := x509.ParseCertificate(b)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

func coseAlg(pub crypto.PublicKey) (cose.Algorithm, error) {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return 0, fmt.Errorf("unsupported COSE key type %T", pub)
	}
	switch key.Curve {
	case elliptic.P256():
		return cose.AlgorithmES256, nil
	case elliptic.P384():
		return cose.AlgorithmES384, nil
	case elliptic.P521():
		return cose.AlgorithmES512, nil
	default:
		return 0, fmt.Errorf("unsupported elliptic curve %v", key.Curve.Params().Name)
	}
}
