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
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/Fraunhofer-AISEC/snpverify/measurement"
	"github.com/Fraunhofer-AISEC/snpverify/snp"
)

// Upper bound for decompressed attestation bodies
const maxReportBody = 1 << 20

// AttestationDocument is the attestation an enclave serves: a predicate type
// and the base64 encoded report, gzip compressed for sev-snp-guest/v2
type AttestationDocument struct {
	Format string `json:"format"`
	Body   string `json:"body"`
}

// Report returns the raw report contained in the document
func (d *AttestationDocument) Report() ([]byte, error) {
	var compressed bool
	switch d.Format {
	case measurement.SevGuestV1:
	case measurement.SevGuestV2:
		compressed = true
	default:
		return nil, &snp.ParseError{
			Kind:  snp.ErrFormat,
			Field: "format",
			Err:   fmt.Errorf("unsupported attestation document format %q", d.Format),
		}
	}

	data, err := base64.StdEncoding.DecodeString(d.Body)
	if err != nil {
		return nil, &snp.ParseError{Kind: snp.ErrDecode, Field: "body", Err: err}
	}

	if compressed {
		data, err = gunzip(data)
		if err != nil {
			return nil, &snp.ParseError{Kind: snp.ErrDecode, Field: "body", Err: err}
		}
	}

	return data, nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxReportBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress body: %w", err)
	}
	if len(out) > maxReportBody {
		return nil, errors.New("decompressed body exceeds size limit")
	}
	return out, nil
}

// NewAttestationDocument encodes a raw report in the given format
func NewAttestationDocument(format string, report []byte) (*AttestationDocument, error) {
	switch format {
	case measurement.SevGuestV1:
		return &AttestationDocument{
			Format: format,
			Body:   base64.StdEncoding.EncodeToString(report),
		}, nil
	case measurement.SevGuestV2:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(report); err != nil {
			return nil, fmt.Errorf("failed to compress report: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress report: %w", err)
		}
		return &AttestationDocument{
			Format: format,
			Body:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported attestation document format %q", format)
	}
}
