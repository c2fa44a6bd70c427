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

// Package provision contains the collaborators that fetch the inputs of a
// verification from the network: VCEKs and CRLs from the AMD KDS, release
// digests and attestation bundles from GitHub and attestation documents
// from enclaves.
package provision

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-sev-guest/abi"
	"github.com/google/go-sev-guest/kds"
	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/snpverify/internal"
)

var log = logrus.WithField("service", "provision")

const (
	KdsBaseUrl = "https://kdsintf.amd.com"
)

// KdsClient retrieves certificates from the AMD Key Distribution Service
type KdsClient struct {
	// BaseUrl replaces the KDS base URL if set
	BaseUrl string
	Client  *http.Client
}

func (c *KdsClient) url(u string) string {
	if c.BaseUrl == "" {
		return u
	}
	return strings.TrimSuffix(c.BaseUrl, "/") + strings.TrimPrefix(u, KdsBaseUrl)
}

// VcekUrl returns the KDS URL of the VCEK for a chip at the given reported TCB
func (c *KdsClient) VcekUrl(product string, chipId []byte, tcb uint64) string {
	return c.url(kds.VCEKCertURL(product, chipId, kds.TCBVersion(tcb)))
}

// FetchVcek downloads the DER encoded VCEK. The KDS only accepts one request
// per chip every ten seconds and answers 429 otherwise, which is returned as
// a TransportError.
func (c *KdsClient) FetchVcek(ctx context.Context, product string, chipId []byte, tcb uint64) ([]byte, error) {

	log.Tracef("Fetching %v VCEK for chip ID %x, TCB %x", product, chipId, tcb)

	url := c.VcekUrl(product, chipId, tcb)
	content, err := httpGet(ctx, c.Client, url, nil)
	if err != nil {
		return nil, err
	}

	der := internal.DerFromPem(content)
	if _, err := x509.ParseCertificate(der); err != nil {
		return nil, fmt.Errorf("failed to parse VCEK from %v: %w", url, err)
	}

	log.Tracef("Successfully downloaded VCEK certificate")

	return der, nil
}

// FetchCertChain downloads the DER encoded ASK and ARK of a product
func (c *KdsClient) FetchCertChain(ctx context.Context, product string) ([]byte, []byte, error) {

	log.Debugf("Fetching AMD SNP %v CA", product)

	content, err := httpGet(ctx, c.Client, c.url(kds.ProductCertChainURL(abi.VcekReportSigner, product)), nil)
	if err != nil {
		return nil, nil, err
	}

	ask, ark, err := kds.ParseProductCertChain(content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %v cert chain: %w", product, err)
	}
	return ask, ark, nil
}

// Get downloads a KDS URL as built by the go-sev-guest kds package. The base
// URL is replaced if configured.
func (c *KdsClient) Get(url string) ([]byte, error) {
	return httpGet(context.Background(), c.Client, c.url(url), nil)
}

// FetchCrl downloads the ARK-issued certificate revocation list of a product
func (c *KdsClient) FetchCrl(ctx context.Context, product string) (*x509.RevocationList, error) {

	log.Debugf("Fetching AMD SNP %v CRL", product)

	url := c.url(fmt.Sprintf("%s/vcek/v1/%s/crl", KdsBaseUrl, product))
	content, err := httpGet(ctx, c.Client, url, nil)
	if err != nil {
		return nil, err
	}

	crl, err := x509.ParseRevocationList(internal.DerFromPem(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL from %v: %w", url, err)
	}
	return crl, nil
}
