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
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Fraunhofer-AISEC/snpverify/document"
)

var idCheck = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// documentVerifier is implemented by verify.Verifier
type documentVerifier interface {
	Verify(ctx context.Context) (*document.VerificationDocument, error)
	Document() *document.VerificationDocument
}

type server struct {
	verifier   documentVerifier
	db         *Db
	token      []byte
	serializer document.Serializer
	signer     *document.Signer

	// serializes verifications and history inserts
	mu sync.Mutex
}

func newServer(c *config, v documentVerifier, db *Db) (*server, error) {

	var token []byte
	if c.Token != "" {
		t, err := os.ReadFile(c.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to read token file: %w", err)
		}
		token = []byte(strings.TrimSpace(string(t)))
		if len(token) == 0 {
			return nil, fmt.Errorf("token file %v is empty", c.Token)
		}
	}

	s, err := document.NewSerializer(c.Serialization)
	if err != nil {
		return nil, err
	}

	var signer *document.Signer
	if c.SigningKey != "" {
		signer, err = document.LoadSigner(c.SigningKey, c.SigningCerts)
		if err != nil {
			return nil, fmt.Errorf("failed to load document signer: %w", err)
		}
	}

	return &server{
		verifier:   v,
		db:         db,
		token:      token,
		serializer: s,
		signer:     signer,
	}, nil
}

func (s *server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	router.POST("/verify", s.handlePostVerify)
	router.GET("/document", s.handleGetDocument)
	router.GET("/document/signed", s.handleGetSignedDocument)
	router.GET("/documents", s.handleGetDocuments)
	router.GET("/documents/:id", s.handleGetDocumentById)

	return router
}

// verify runs a verification and stores the resulting document. The
// document is stored for failed verifications as well.
func (s *server) verify(ctx context.Context) (*DocumentEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, verr := s.verifier.Verify(ctx)
	if doc == nil {
		return nil, fmt.Errorf("verification did not produce a document: %w", verr)
	}
	if verr != nil {
		log.Warnf("Verification of %v failed: %v", doc.EnclaveHost, verr)
	} else {
		log.Infof("Verification of %v succeeded", doc.EnclaveHost)
	}

	id, err := s.db.InsertDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	return &DocumentEnvelope{
		Id:       id,
		Repo:     doc.ConfigRepo,
		Host:     doc.EnclaveHost,
		Created:  doc.Created,
		Verified: doc.SecurityVerified,
		Document: doc,
	}, nil
}

// handlePostVerify verifies the enclave again and responds with the new
// document
func (s *server) handlePostVerify(c *gin.Context) {

	log.Trace("in POST /verify")

	err := authorize(c.Request, s.token)
	if err != nil {
		msg := fmt.Sprintf("Unauthorized request: %v", err)
		log.Warn(msg)
		c.IndentedJSON(http.StatusUnauthorized, gin.H{"message": msg})
		return
	}

	envelope, err := s.verify(c.Request.Context())
	if err != nil {
		msg := fmt.Sprintf("Failed to verify: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": msg})
		log.Warn(msg)
		return
	}

	c.JSON(http.StatusOK, envelope)
}

// handleGetDocument responds with the document of the last verification
func (s *server) handleGetDocument(c *gin.Context) {

	log.Trace("in GET /document")

	doc := s.verifier.Document()
	if doc == nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "no verification performed yet"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// handleGetSignedDocument responds with the signed serialization of the
// document of the last verification
func (s *server) handleGetSignedDocument(c *gin.Context) {

	log.Trace("in GET /document/signed")

	if s.signer == nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "document signing not configured"})
		return
	}

	doc := s.verifier.Document()
	if doc == nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "no verification performed yet"})
		return
	}

	data, err := s.serializer.Marshal(doc)
	if err == nil {
		data, err = s.serializer.Sign(data, s.signer)
	}
	if err != nil {
		msg := fmt.Sprintf("Failed to sign document: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": msg})
		log.Warn(msg)
		return
	}

	c.Data(http.StatusOK, contentType(s.serializer), data)
}

// handleGetDocuments responds with the envelopes of all stored documents
func (s *server) handleGetDocuments(c *gin.Context) {

	log.Trace("in GET /documents")

	envelopes, err := s.db.GetDocuments()
	if err != nil {
		msg := fmt.Sprintf("Failed to retrieve documents: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": msg})
		log.Warn(msg)
		return
	}

	c.JSON(http.StatusOK, envelopes)

	log.Tracef("Finished returning %v documents", len(envelopes))
}

// handleGetDocumentById responds with a stored document
func (s *server) handleGetDocumentById(c *gin.Context) {

	id, err := getId(c)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	envelope, err := s.db.GetDocumentById(id)
	if err != nil {
		msg := fmt.Sprintf("Failed to retrieve document: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": msg})
		log.Warn(msg)
		return
	}
	if envelope == nil {
		msg := fmt.Sprintf("No document with id %v", id)
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": msg})
		log.Debug(msg)
		return
	}

	c.JSON(http.StatusOK, envelope)
}

func contentType(s document.Serializer) string {
	if _, ok := s.(document.CborSerializer); ok {
		return "application/cose"
	}
	return "application/jose"
}

func authorize(req *http.Request, refToken []byte) error {

	// Authorization is optional and must be configured
	if refToken == nil {
		return nil
	}

	authHeader := req.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("missing or invalid authorization header")
	}

	presentedToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	if presentedToken == "" || subtle.ConstantTimeCompare([]byte(presentedToken), refToken) != 1 {
		return errors.New("failed to verify authorization token")
	}

	return nil
}

func getId(c *gin.Context) (string, error) {
	id := c.Param("id")
	if !idCheck.MatchString(id) {
		return "", fmt.Errorf("id must be a hex encoded SHA-256 digest")
	}
	return strings.ToLower(id), nil
}
