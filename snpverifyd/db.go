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
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Fraunhofer-AISEC/snpverify/document"
)

var tableCheck = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Db struct {
	db    *sql.DB
	table string
}

// DocumentEnvelope is a stored verification document. Document is omitted in
// listings.
type DocumentEnvelope struct {
	Id       string                         `json:"id"`
	Repo     string                         `json:"repo"`
	Host     string                         `json:"host"`
	Created  string                         `json:"created"`
	Verified bool                           `json:"securityVerified"`
	Document *document.VerificationDocument `json:"document,omitempty"`
}

func NewDb(path string, table string, maxRows int) (*Db, error) {

	if !tableCheck.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if maxRows <= 0 {
		return nil, fmt.Errorf("invalid maximum number of rows %v", maxRows)
	}

	log.Tracef("Opening database %v", path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 DB: %w", err)
	}

	ok, err := tableExists(db, table)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check tables: %w", err)
	}
	if !ok {
		err = createTable(db, table, maxRows)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Db{db: db, table: table}, nil
}

func (db *Db) Close() error {
	return db.db.Close()
}

// InsertDocument stores the JSON encoding of doc and returns its ID, the
// SHA-256 digest of the encoding
func (db *Db) InsertDocument(doc *document.VerificationDocument) (string, error) {

	if doc == nil {
		return "", errors.New("cannot insert empty document")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	id := documentId(data)

	log.Tracef("Inserting document %v for %v into %v", id, doc.EnclaveHost, db.table)

	insert := fmt.Sprintf(`INSERT INTO %v
		(id, repo, host, created, verified, document)
		VALUES
		(?, ?, ?, ?, ?, json(?))`, db.table)

	_, err = db.db.Exec(insert, id, doc.ConfigRepo, doc.EnclaveHost, doc.Created,
		doc.SecurityVerified, string(data))
	if err != nil {
		return "", fmt.Errorf("failed to execute statement: %w", err)
	}

	return id, nil
}

// GetDocuments returns the envelopes of all stored documents, newest first
func (db *Db) GetDocuments() ([]*DocumentEnvelope, error) {

	log.Trace("Querying all documents")

	stmt := fmt.Sprintf("SELECT id, repo, host, created, verified FROM %v ORDER BY serial DESC;", db.table)

	rows, err := db.db.Query(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to exec sqlite3 statement: %w", err)
	}
	defer rows.Close()

	envelopes := make([]*DocumentEnvelope, 0)
	for rows.Next() {
		e := new(DocumentEnvelope)
		err = rows.Scan(&e.Id, &e.Repo, &e.Host, &e.Created, &e.Verified)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		envelopes = append(envelopes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	log.Tracef("Returning %v documents", len(envelopes))

	return envelopes, nil
}

// GetDocumentById returns the stored document with the given ID or nil if
// it does not exist
func (db *Db) GetDocumentById(id string) (*DocumentEnvelope, error) {

	log.Tracef("Querying document %v", id)

	stmt := fmt.Sprintf("SELECT id, repo, host, created, verified, document FROM %v WHERE id = ? ORDER BY serial DESC LIMIT 1;",
		db.table)

	e := new(DocumentEnvelope)
	var data string
	err := db.db.QueryRow(stmt, id).Scan(&e.Id, &e.Repo, &e.Host, &e.Created, &e.Verified, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	e.Document = new(document.VerificationDocument)
	if err := json.Unmarshal([]byte(data), e.Document); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored document: %w", err)
	}

	return e, nil
}

func tableExists(db *sql.DB, table string) (bool, error) {
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table)
	if err != nil {
		return false, fmt.Errorf("failed to exec sqlite3 statement: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		log.Tracef("Table %v exists", table)
		return true, nil
	}

	log.Tracef("Table %v does not exist", table)
	return false, nil
}

func createTable(db *sql.DB, table string, maxRows int) error {

	log.Tracef("Creating table %v", table)

	sqlStmt := fmt.Sprintf(`
CREATE TABLE %v (
    serial INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    repo TEXT,
    host TEXT,
    created TEXT,
    verified INTEGER,
    document TEXT
);`, table)
	_, err := db.Exec(sqlStmt)
	if err != nil {
		return fmt.Errorf("failed to exec sqlite3 create statement: %w", err)
	}

	sqlStmt = fmt.Sprintf(`
CREATE TRIGGER %v_limit_size AFTER INSERT ON %v
BEGIN
    DELETE FROM %v
    WHERE serial IN (
        SELECT serial
        FROM %v
        ORDER BY serial DESC
        LIMIT -1 OFFSET %v
    );
END;`, table, table, table, table, maxRows)

	_, err = db.Exec(sqlStmt)
	if err != nil {
		return fmt.Errorf("failed to exec sqlite3 trigger statement: %w", err)
	}

	log.Tracef("Created table %v with limit of %v documents", table, maxRows)
	return nil
}

func documentId(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
