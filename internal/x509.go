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

package internal

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "internal")

// Distinguished name attributes every AMD KDS certificate carries, see
// https://www.amd.com/system/files/TechDocs/57230.pdf
const (
	AmdCountry      = "US"
	AmdProvince     = "CA"
	AmdLocality     = "Santa Clara"
	AmdOrganization = "Advanced Micro Devices"
	AmdOrgUnit      = "Engineering"
)

// ParseCert parses a certificate from PEM or DER encoded data into an X.509 certificate
func ParseCert(data []byte) (*x509.Certificate, error) {
	input := data

	block, _ := pem.Decode(data)
	if block != nil {
		input = block.Bytes
	}

	cert, err := x509.ParseCertificate(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse x509 Certificate: %v", err)
	}

	return cert, nil
}

// ParseCertsPem parses all certificates in a single PEM encoded blob
func ParseCertsPem(data []byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0)
	input := data

	for block, rest := pem.Decode(input); block != nil; block, rest = pem.Decode(rest) {

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse x509 Certificate: %v", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("did not find certs in provided data")
	}
	return certs, nil
}

// DerFromPem returns the DER bytes of the first PEM block, or the unmodified
// data if it is not PEM encoded
func DerFromPem(data []byte) []byte {
	block, _ := pem.Decode(data)
	if block != nil {
		return block.Bytes
	}
	return data
}

func WriteCertPem(cert *x509.Certificate) []byte {
	p := &bytes.Buffer{}
	pem.Encode(p, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	return p.Bytes()
}

func WritePublicKeyPem(key crypto.PublicKey) ([]byte, error) {
	pk, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PKIX public key")
	}
	p := &bytes.Buffer{}
	pem.Encode(p, &pem.Block{Type: "PUBLIC KEY", Bytes: pk})
	return p.Bytes(), nil
}

func CheckCert(cert *x509.Certificate, cn string, signatureAlgo x509.SignatureAlgorithm) error {
	if cert == nil {
		return errors.New("internal error: cert to check is nil")
	}

	if cn != cert.Subject.CommonName {
		return fmt.Errorf("unexpected CN=%v. Expected %v", cert.Subject.CommonName, cn)
	}
	log.Tracef("Certificate CN=%v matches expected CN", cn)

	if signatureAlgo != cert.SignatureAlgorithm {
		return fmt.Errorf("unsupported signature algorithm %v. Only supports %v",
			cert.SignatureAlgorithm.String(), signatureAlgo.String())
	}
	log.Tracef("Certificate signature algorithm %v matches expected algorithm", signatureAlgo.String())

	return nil
}

// CheckAmdName checks that the name carries exactly the AMD location attributes
// and the expected common name. The role is only used for error messages.
func CheckAmdName(name pkix.Name, role, cn string) error {
	checkSingle := func(l []string, attr, value string) error {
		if len(l) != 1 {
			return fmt.Errorf("%v has %d %v attributes, expected 1", role, len(l), attr)
		}
		if l[0] != value {
			return fmt.Errorf("%v %v %q does not match expected %q", role, attr, l[0], value)
		}
		return nil
	}

	if err := checkSingle(name.Country, "country", AmdCountry); err != nil {
		return err
	}
	if err := checkSingle(name.Province, "state", AmdProvince); err != nil {
		return err
	}
	if err := checkSingle(name.Locality, "locality", AmdLocality); err != nil {
		return err
	}
	if err := checkSingle(name.Organization, "organization", AmdOrganization); err != nil {
		return err
	}
	if err := checkSingle(name.OrganizationalUnit, "organizational unit", AmdOrgUnit); err != nil {
		return err
	}
	if name.CommonName != cn {
		return fmt.Errorf("%v common name %q does not match expected %q", role, name.CommonName, cn)
	}
	return nil
}

// CheckValidity checks that the certificate is valid at the given point in time
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate CN=%v not valid before %v", cert.Subject.CommonName,
			cert.NotBefore.UTC().Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate CN=%v expired at %v", cert.Subject.CommonName,
			cert.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

// CheckRevocation first validates the provided certificate revocation list against a CA and then
// checks if the provided certificate was revoked
func CheckRevocation(crl *x509.RevocationList, cert *x509.Certificate, ca *x509.Certificate, now time.Time) error {

	if cert == nil || crl == nil || ca == nil {
		return fmt.Errorf("certificate or revocation null pointer exception")
	}

	if crl.Issuer.String() != ca.Subject.String() {
		return fmt.Errorf("CRL issuer name %v does not match CA subject name %v",
			crl.Issuer.String(), ca.Subject.String())
	}
	log.Tracef("CRL issuer name %v matches expected name", crl.Issuer.String())

	// Check CRL signature
	err := crl.CheckSignatureFrom(ca)
	if err != nil {
		return fmt.Errorf("CRL signature is invalid: %v", err)
	}

	// Check if CRL is up to date
	if now.After(crl.NextUpdate) {
		return fmt.Errorf("CRL has expired since: %v", crl.NextUpdate)
	}

	// Check if certificate has been revoked
	for _, revokedCert := range crl.RevokedCertificateEntries {
		if cert.SerialNumber.Cmp(revokedCert.SerialNumber) == 0 {
			return fmt.Errorf("certificate has been revoked since: %v", revokedCert.RevocationTime)
		}
	}

	return nil
}
