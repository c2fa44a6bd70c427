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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/snpverify/engine"
)

var log = logrus.WithField("service", "snpverifyd")

func main() {

	cmd := &cli.Command{
		Name:    "snpverifyd",
		Usage:   "Serve AMD SEV-SNP enclave verification documents and their history",
		Version: getVersion(),
		Flags:   newFlags(),
		Action:  run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {

	c, err := getConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	if !c.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, &c.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer e.Close()

	v, err := e.Verifier(c.Repo, c.Enclave)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	db, err := NewDb(c.Db, "documents", c.MaxRows)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	s, err := newServer(c, v, db)
	if err != nil {
		return err
	}

	// Initial verification, so that a document is available from the start
	if _, err := s.verify(ctx); err != nil {
		log.Warnf("Initial verification failed: %v", err)
	}

	if c.interval > 0 {
		go s.verifyPeriodically(ctx, c.interval)
	}

	srv := &http.Server{
		Addr:    c.Addr,
		Handler: s.router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Serving verification documents for %v on %v", c.Enclave, c.Addr)

	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func (s *server) verifyPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Debug("Running periodic verification")
			if _, err := s.verify(ctx); err != nil {
				log.Warnf("Periodic verification failed: %v", err)
			}
		}
	}
}
