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

package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Upper bound for collaborator response bodies
const maxResponseSize = 10 << 20

// TransportError is returned if an external collaborator could not be
// reached or did not answer with the expected status
type TransportError struct {
	Url        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %v failed with HTTP status %v: %v", e.Url, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request to %v failed: %v", e.Url, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func httpGet(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {

	log.Debugf("Requesting %v", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Url: url, Err: err}
	}
	for k, v := range header {
		req.Header[k] = v
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Url: url, Err: fmt.Errorf("error HTTP GET: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Url:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP Response Status: %v", resp.Status),
		}
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, &TransportError{Url: url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to read HTTP body: %w", err)}
	}
	if len(content) > maxResponseSize {
		return nil, &TransportError{Url: url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("HTTP body exceeds %v bytes", maxResponseSize)}
	}

	return content, nil
}
