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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/exp/maps"

	"github.com/Fraunhofer-AISEC/snpverify/engine"
)

type Config struct {
	engine.Config
	Repo          string `json:"repo"`
	Enclave       string `json:"enclave"`
	Serialization string `json:"serialization"`
	SigningKey    string `json:"signingKey,omitempty"`
	SigningCerts  string `json:"signingCerts,omitempty"`
	LogLevel      string `json:"log"`

	// Only set via command line
	In   string `json:"-"`
	Out  string `json:"-"`
	Vcek string `json:"-"`
	A    string `json:"-"`
	B    string `json:"-"`
}

const (
	configFlag        = "config"
	repoFlag          = "repo"
	enclaveFlag       = "enclave"
	kdsUrlFlag        = "kds-url"
	githubApiFlag     = "github-api"
	githubTokenFlag   = "github-token"
	cacheBackendFlag  = "cache"
	cachePathFlag     = "cache-path"
	trustedRootFlag   = "trusted-root"
	policyFlag        = "policy"
	arkFlag           = "ark"
	askFlag           = "ask"
	fetchCrlFlag      = "crl"
	arkFpFlag         = "ark-fingerprints"
	serializationFlag = "serialization"
	signingKeyFlag    = "signing-key"
	signingCertsFlag  = "signing-certs"
	logFlag           = "log-level"
	inFlag            = "in"
	outFlag           = "out"
	vcekFlag          = "vcek"
	aFlag             = "a"
	bFlag             = "b"
)

var (
	logLevels = map[string]logrus.Level{
		"panic": logrus.PanicLevel,
		"fatal": logrus.FatalLevel,
		"error": logrus.ErrorLevel,
		"warn":  logrus.WarnLevel,
		"info":  logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"trace": logrus.TraceLevel,
	}

	serializations = map[string]struct{}{
		"json": {},
		"cbor": {},
	}
)

// newFlags returns the command line flags. Flags keep the parsed values,
// so every command needs its own set.
func newFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: configFlag, Usage: "JSON configuration file"},
		&cli.StringFlag{Name: repoFlag, Usage: "GitHub repository the enclave code is released from (owner/name)"},
		&cli.StringFlag{Name: enclaveFlag, Usage: "host name of the enclave to verify"},
		&cli.StringFlag{Name: kdsUrlFlag, Usage: "base URL of the AMD key distribution service (default: https://kdsintf.amd.com)"},
		&cli.StringFlag{Name: githubApiFlag, Usage: "GitHub API URL (default: https://api.github.com)"},
		&cli.StringFlag{Name: githubTokenFlag, Usage: "optional GitHub API token"},
		&cli.StringFlag{Name: cacheBackendFlag,
			Usage: fmt.Sprintf("VCEK cache backend. Possible: %v", strings.Join(engine.GetCacheBackends(), ","))},
		&cli.StringFlag{Name: cachePathFlag, Usage: "folder or database file of the VCEK cache"},
		&cli.StringFlag{Name: trustedRootFlag, Usage: "sigstore trusted root JSON (default: fetched via TUF)"},
		&cli.StringFlag{Name: policyFlag, Usage: "report policy file (JSON or YAML)"},
		&cli.StringFlag{Name: arkFlag, Usage: "custom ARK certificate instead of the ARK served by the KDS"},
		&cli.StringFlag{Name: askFlag, Usage: "custom ASK certificate instead of the ASK served by the KDS"},
		&cli.BoolFlag{Name: fetchCrlFlag, Usage: "fetch the AMD CRL and check the ASK against it"},
		&cli.StringFlag{Name: arkFpFlag, Usage: "comma-separated list of trusted ARK SHA-256 fingerprints"},
		&cli.StringFlag{Name: serializationFlag,
			Usage: fmt.Sprintf("document serialization. Possible: %v", strings.Join(maps.Keys(serializations), ","))},
		&cli.StringFlag{Name: signingKeyFlag, Usage: "PEM private key to sign the verification document with"},
		&cli.StringFlag{Name: signingCertsFlag, Usage: "PEM certificate chain of the signing key, leaf first"},
		&cli.StringFlag{Name: logFlag,
			Usage: fmt.Sprintf("set log level. Possible: %v", strings.Join(maps.Keys(logLevels), ","))},
		&cli.StringFlag{Name: inFlag, Usage: "input file, e.g., an SNP report or a VCEK"},
		&cli.StringFlag{Name: outFlag, Usage: "output file (default: stdout)"},
		&cli.StringFlag{Name: vcekFlag, Usage: "VCEK file to verify an offline report against"},
		&cli.StringFlag{Name: aFlag, Usage: "first measurement file"},
		&cli.StringFlag{Name: bFlag, Usage: "second measurement file"},
	}
}

func GetConfig(cmd *cli.Command) (*Config, error) {

	c := &Config{
		Config: engine.Config{
			CacheBackend: engine.CacheMemory,
		},
		Serialization: "json",
		LogLevel:      "info",
	}

	// Obtain custom configuration from file if specified
	if cmd.IsSet(configFlag) {
		file := cmd.String(configFlag)
		log.Debugf("Loading config from file %v", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %v: %w", file, err)
		}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Overwrite config file configuration with given command line arguments
	for flag, field := range map[string]*string{
		repoFlag:          &c.Repo,
		enclaveFlag:       &c.Enclave,
		kdsUrlFlag:        &c.KdsUrl,
		githubApiFlag:     &c.GithubApi,
		githubTokenFlag:   &c.GithubToken,
		cacheBackendFlag:  &c.CacheBackend,
		cachePathFlag:     &c.CachePath,
		trustedRootFlag:   &c.TrustedRoot,
		policyFlag:        &c.Policy,
		arkFlag:           &c.Ark,
		askFlag:           &c.Ask,
		serializationFlag: &c.Serialization,
		signingKeyFlag:    &c.SigningKey,
		signingCertsFlag:  &c.SigningCerts,
		logFlag:           &c.LogLevel,
		inFlag:            &c.In,
		outFlag:           &c.Out,
		vcekFlag:          &c.Vcek,
		aFlag:             &c.A,
		bFlag:             &c.B,
	} {
		if cmd.IsSet(flag) {
			*field = cmd.String(flag)
		}
	}
	if cmd.IsSet(fetchCrlFlag) {
		c.FetchCrl = cmd.Bool(fetchCrlFlag)
	}
	if cmd.IsSet(arkFpFlag) {
		c.ArkFingerprints = strings.Split(cmd.String(arkFpFlag), ",")
	}

	l, ok := logLevels[strings.ToLower(c.LogLevel)]
	if !ok {
		return nil, fmt.Errorf("log level %v does not exist. Possible: %v",
			c.LogLevel, strings.Join(maps.Keys(logLevels), ","))
	}
	logrus.SetLevel(l)

	if err := c.Config.Validate(); err != nil {
		return nil, err
	}
	if _, ok := serializations[c.Serialization]; !ok {
		return nil, fmt.Errorf("unknown serialization %q", c.Serialization)
	}
	if (c.SigningKey == "") != (c.SigningCerts == "") {
		return nil, fmt.Errorf("signing requires both a signing key and signing certificates")
	}

	// Convert file paths to absolute paths
	for _, p := range []*string{&c.SigningKey, &c.SigningCerts} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path of %v: %w", *p, err)
		}
		*p = abs
	}

	c.Print()

	return c, nil
}

func (c *Config) Print() {
	log.Debugf("Running snpverify %v", getVersion())
	log.Debugf("Using the following configuration:")
	log.Debugf("\tRepository       : %v", c.Repo)
	log.Debugf("\tEnclave          : %v", c.Enclave)
	c.Config.Print()
	log.Debugf("\tSerialization    : %v", c.Serialization)
	log.Debugf("\tSigning key      : %v", c.SigningKey)
	log.Debugf("\tSigning certs    : %v", c.SigningCerts)
	log.Debugf("\tLogging level    : %v", c.LogLevel)
}

func getVersion() string {
	version := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		if strings.EqualFold(info.Main.Version, "(devel)") {
			commit := "unknown"
			created := "unknown"
			for _, elem := range info.Settings {
				if strings.EqualFold(elem.Key, "vcs.revision") {
					commit = elem.Value
				}
				if strings.EqualFold(elem.Key, "vcs.time") {
					created = elem.Value
				}
			}
			version = fmt.Sprintf("%v, commit %v, created %v", info.Main.Version, commit, created)
		} else {
			version = info.Main.Version
		}
	}
	return version
}
