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
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const (
	GithubApiUrl = "https://api.github.com"

	// Release asset holding the hex encoded digest of the release
	digestAssetName = "tinfoil.hash"
)

var (
	digestPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	bodyDigest    = regexp.MustCompile("Digest: `?([0-9a-fA-F]{64})`?")
)

// GithubClient fetches release information and attestation bundles from the
// GitHub REST API
type GithubClient struct {
	// ApiUrl replaces the GitHub API URL if set
	ApiUrl string
	Token  string
	Client *http.Client
}

type release struct {
	TagName string `json:"tag_name"`
	Body    string `json:"body"`
	Assets  []struct {
		Name string `json:"name"`
		Url  string `json:"browser_download_url"`
	} `json:"assets"`
}

type attestations struct {
	Attestations []struct {
		Bundle json.RawMessage `json:"bundle"`
	} `json:"attestations"`
}

func (c *GithubClient) api() string {
	if c.ApiUrl == "" {
		return GithubApiUrl
	}
	return strings.TrimSuffix(c.ApiUrl, "/")
}

func (c *GithubClient) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

// FetchDigest returns the tag and the lower case hex encoded digest of the
// latest release of repo. The digest is read from the release's digest
// asset or from a "Digest:" line in the release notes.
func (c *GithubClient) FetchDigest(ctx context.Context, repo string) (string, string, error) {

	data, err := httpGet(ctx, c.Client, fmt.Sprintf("%v/repos/%v/releases/latest", c.api(), repo), c.header())
	if err != nil {
		return "", "", err
	}

	var r release
	if err := json.Unmarshal(data, &r); err != nil {
		return "", "", fmt.Errorf("failed to unmarshal release of %v: %w", repo, err)
	}
	if r.TagName == "" {
		return "", "", fmt.Errorf("latest release of %v has no tag", repo)
	}

	for _, a := range r.Assets {
		if a.Name != digestAssetName {
			continue
		}
		content, err := httpGet(ctx, c.Client, a.Url, nil)
		if err != nil {
			return "", "", err
		}
		digest := strings.TrimSpace(string(content))
		if !digestPattern.MatchString(digest) {
			return "", "", fmt.Errorf("release asset %v of %v@%v is not a sha256 digest", a.Name, repo, r.TagName)
		}
		log.Debugf("Fetched digest %v of %v@%v from release asset", digest, repo, r.TagName)
		return r.TagName, strings.ToLower(digest), nil
	}

	m := bodyDigest.FindStringSubmatch(r.Body)
	if m == nil {
		return "", "", fmt.Errorf("release %v of %v does not specify a digest", r.TagName, repo)
	}

	log.Debugf("Fetched digest %v of %v@%v from release notes", m[1], repo, r.TagName)

	return r.TagName, strings.ToLower(m[1]), nil
}

// FetchBundle returns the first attestation bundle GitHub holds for the
// hex encoded sha256 digest within repo
func (c *GithubClient) FetchBundle(ctx context.Context, repo, digest string) ([]byte, error) {

	url := fmt.Sprintf("%v/repos/%v/attestations/sha256:%v", c.api(), repo, strings.ToLower(digest))
	data, err := httpGet(ctx, c.Client, url, c.header())
	if err != nil {
		return nil, err
	}

	var a attestations
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attestations: %w", err)
	}
	if len(a.Attestations) == 0 || len(a.Attestations[0].Bundle) == 0 {
		return nil, fmt.Errorf("no attestation bundle found for %v@sha256:%v", repo, digest)
	}

	return a.Attestations[0].Bundle, nil
}
