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
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SqliteCache is a Cache backed by a SQLite database table
type SqliteCache struct {
	db    *sql.DB
	table string
}

func NewSqliteCache(path, table string) (*SqliteCache, error) {

	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	log.Tracef("Opening database %v", path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 DB: %w", err)
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL
);`, table)
	if _, err := db.Exec(stmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to exec sqlite3 create statement: %w", err)
	}

	return &SqliteCache{db: db, table: table}, nil
}

func (c *SqliteCache) Close() error {
	return c.db.Close()
}

func (c *SqliteCache) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.QueryRow(fmt.Sprintf("SELECT value FROM %v WHERE key = ?", c.table), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to query %v: %w", key, err)
	}
	return value, true, nil
}

func (c *SqliteCache) Set(key string, value []byte) error {
	_, err := c.db.Exec(fmt.Sprintf(`INSERT INTO %v (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, c.table), key, value)
	if err != nil {
		return fmt.Errorf("failed to store %v: %w", key, err)
	}
	return nil
}

func (c *SqliteCache) Evict(key string) error {
	if _, err := c.db.Exec(fmt.Sprintf("DELETE FROM %v WHERE key = ?", c.table), key); err != nil {
		return fmt.Errorf("failed to evict %v: %w", key, err)
	}
	return nil
}
