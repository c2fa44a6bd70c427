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
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/exp/maps"

	"github.com/Fraunhofer-AISEC/snpverify/engine"
)

type config struct {
	engine.Config
	Addr          string `json:"addr"`
	Repo          string `json:"repo"`
	Enclave       string `json:"enclave"`
	Db            string `json:"db"`
	MaxRows       int    `json:"maxRows"`
	Interval      string `json:"interval,omitempty"`
	Token         string `json:"token,omitempty"`
	Serialization string `json:"serialization"`
	SigningKey    string `json:"signingKey,omitempty"`
	SigningCerts  string `json:"signingCerts,omitempty"`
	LogLevel      string `json:"log"`
	Debug         bool   `json:"debug"`

	interval time.Duration
}

const (
	configFlag        = "config"
	addrFlag          = "addr"
	repoFlag          = "repo"
	enclaveFlag       = "enclave"
	dbFlag            = "db"
	maxRowsFlag       = "max-rows"
	intervalFlag      = "interval"
	tokenFlag         = "token"
	serializationFlag = "serialization"
	signingKeyFlag    = "signing-key"
	signingCertsFlag  = "signing-certs"
	logFlag           = "log-level"
	debugFlag         = "debug"
	kdsUrlFlag        = "kds-url"
	githubApiFlag     = "github-api"
	githubTokenFlag   = "github-token"
	cacheBackendFlag  = "cache"
	cachePathFlag     = "cache-path"
	trustedRootFlag   = "trusted-root"
	policyFlag        = "policy"
)

var logLevels = map[string]logrus.Level{
	"panic": logrus.PanicLevel,
	"fatal": logrus.FatalLevel,
	"error": logrus.ErrorLevel,
	"warn":  logrus.WarnLevel,
	"info":  logrus.InfoLevel,
	"debug": logrus.DebugLevel,
	"trace": logrus.TraceLevel,
}

// newFlags returns the command line flags. Flags keep the parsed values,
// so every command needs its own set.
func newFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: configFlag, Usage: "JSON configuration file"},
		&cli.StringFlag{Name: addrFlag, Usage: "HTTP listen address (default: localhost:8080)"},
		&cli.StringFlag{Name: repoFlag, Usage: "GitHub repository the enclave code is released from (owner/name)"},
		&cli.StringFlag{Name: enclaveFlag, Usage: "host name of the enclave to verify"},
		&cli.StringFlag{Name: dbFlag, Usage: "SQLite3 database path for the document history (default: snpverifyd.db)"},
		&cli.IntFlag{Name: maxRowsFlag, Usage: "maximum number of documents kept in the history (default: 100)"},
		&cli.StringFlag{Name: intervalFlag, Usage: "optional interval for periodic verification, e.g. 1h"},
		&cli.StringFlag{Name: tokenFlag, Usage: "optional file with the bearer token required for POST /verify"},
		&cli.StringFlag{Name: serializationFlag, Usage: "serialization of signed documents (json or cbor)"},
		&cli.StringFlag{Name: signingKeyFlag, Usage: "PEM private key to sign documents with"},
		&cli.StringFlag{Name: signingCertsFlag, Usage: "PEM certificate chain of the signing key, leaf first"},
		&cli.StringFlag{Name: logFlag,
			Usage: fmt.Sprintf("set log level. Possible: %v", strings.Join(maps.Keys(logLevels), ","))},
		&cli.BoolFlag{Name: debugFlag, Usage: "activate GIN debug mode"},
		&cli.StringFlag{Name: kdsUrlFlag, Usage: "base URL of the AMD key distribution service"},
		&cli.StringFlag{Name: githubApiFlag, Usage: "GitHub API URL"},
		&cli.StringFlag{Name: githubTokenFlag, Usage: "optional GitHub API token"},
		&cli.StringFlag{Name: cacheBackendFlag,
			Usage: fmt.Sprintf("VCEK cache backend. Possible: %v", strings.Join(engine.GetCacheBackends(), ","))},
		&cli.StringFlag{Name: cachePathFlag, Usage: "folder or database file of the VCEK cache"},
		&cli.StringFlag{Name: trustedRootFlag, Usage: "sigstore trusted root JSON (default: fetched via TUF)"},
		&cli.StringFlag{Name: policyFlag, Usage: "report policy file (JSON or YAML)"},
	}
}

func getConfig(cmd *cli.Command) (*config, error) {

	c := &config{
		Addr:          "localhost:8080",
		Db:            "snpverifyd.db",
		MaxRows:       100,
		Serialization: "json",
		LogLevel:      "info",
	}

	if cmd.IsSet(configFlag) {
		file := cmd.String(configFlag)
		log.Infof("Loading config from file %v", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %v: %w", file, err)
		}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	for flag, field := range map[string]*string{
		addrFlag:          &c.Addr,
		repoFlag:          &c.Repo,
		enclaveFlag:       &c.Enclave,
		dbFlag:            &c.Db,
		intervalFlag:      &c.Interval,
		tokenFlag:         &c.Token,
		serializationFlag: &c.Serialization,
		signingKeyFlag:    &c.SigningKey,
		signingCertsFlag:  &c.SigningCerts,
		logFlag:           &c.LogLevel,
		kdsUrlFlag:        &c.KdsUrl,
		githubApiFlag:     &c.GithubApi,
		githubTokenFlag:   &c.GithubToken,
		cacheBackendFlag:  &c.CacheBackend,
		cachePathFlag:     &c.CachePath,
		trustedRootFlag:   &c.TrustedRoot,
		policyFlag:        &c.Policy,
	} {
		if cmd.IsSet(flag) {
			*field = cmd.String(flag)
		}
	}
	if cmd.IsSet(maxRowsFlag) {
		c.MaxRows = int(cmd.Int(maxRowsFlag))
	}
	if cmd.IsSet(debugFlag) {
		c.Debug = cmd.Bool(debugFlag)
	}

	l, ok := logLevels[strings.ToLower(c.LogLevel)]
	if !ok {
		return nil, fmt.Errorf("log level %v does not exist. Possible: %v",
			c.LogLevel, strings.Join(maps.Keys(logLevels), ","))
	}
	logrus.SetLevel(l)

	if c.Repo == "" || c.Enclave == "" {
		return nil, fmt.Errorf("repository and enclave host must be specified")
	}
	if c.MaxRows <= 0 {
		return nil, fmt.Errorf("maximum number of rows must be positive")
	}
	if c.Interval != "" {
		d, err := time.ParseDuration(c.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %v: %w", c.Interval, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive")
		}
		c.interval = d
	}
	if (c.SigningKey == "") != (c.SigningCerts == "") {
		return nil, fmt.Errorf("signing requires both a signing key and signing certificates")
	}
	if err := c.Config.Validate(); err != nil {
		return nil, err
	}

	for _, p := range []*string{&c.Db, &c.Token, &c.SigningKey, &c.SigningCerts} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path of %v: %w", *p, err)
		}
		*p = abs
	}

	printConfig(c)

	return c, nil
}

func printConfig(c *config) {
	wd, err := os.Getwd()
	if err != nil {
		log.Warnf("Failed to get working directory: %v", err)
	}
	log.Debugf("Running snpverifyd %v from working directory %v", getVersion(), wd)

	log.Debugf("Using the following configuration:")
	log.Debugf("\tListen address   : %v", c.Addr)
	log.Debugf("\tRepository       : %v", c.Repo)
	log.Debugf("\tEnclave          : %v", c.Enclave)
	log.Debugf("\tSQLite database  : %v", c.Db)
	log.Debugf("\tMaximum entries  : %v", c.MaxRows)
	log.Debugf("\tInterval         : %v", c.Interval)
	log.Debugf("\tToken            : %v", c.Token)
	log.Debugf("\tSerialization    : %v", c.Serialization)
	log.Debugf("\tSigning key      : %v", c.SigningKey)
	log.Debugf("\tSigning certs    : %v", c.SigningCerts)
	log.Debugf("\tLogging level    : %v", c.LogLevel)
	log.Debugf("\tGIN debug        : %v", c.Debug)
	c.Config.Print()
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
