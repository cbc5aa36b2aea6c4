// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package persistence backs the gateway's persisted state: sources,
// indicators, idempotency records and DLQ entries live in a relational
// store whose migrations run at startup, gating the process in a
// warming_up state (503 from non-public routes) until they complete. This
// follows the same database/sql-shaped persister pattern used elsewhere in
// this codebase, naming lib/pq as the driver and adding migrations on top;
// github.com/lib/pq supplies the concrete driver.
package persistence

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// migrations is the fixed, idempotent schema backing that persisted state.
// Each statement uses IF NOT EXISTS so repeated runs across
// process restarts are safe without a migration-version table — the
// teacher's own persistence layer (core/persistence.go) takes the same
// "re-running setup is harmless" approach rather than tracking applied
// migration versions.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		declared_type TEXT NOT NULL,
		collector_label TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		allowed_ips TEXT[] NOT NULL DEFAULT '{}',
		max_eps BIGINT NOT NULL DEFAULT 0,
		block_on_exceed BOOLEAN NOT NULL DEFAULT false,
		last_seen TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS indicators (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		tenant_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		client_key TEXT NOT NULL,
		status_code INT NOT NULL,
		body BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		ttl_seconds INT NOT NULL,
		PRIMARY KEY (tenant_id, endpoint, client_key)
	)`,
	`CREATE TABLE IF NOT EXISTS dlq_entries (
		id TEXT PRIMARY KEY,
		destination TEXT NOT NULL,
		payload BYTEA NOT NULL,
		first_attempt TIMESTAMPTZ NOT NULL,
		last_attempt TIMESTAMPTZ NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		next_eligible TIMESTAMPTZ NOT NULL,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
}

// Open connects to dsn and returns a ready *sql.DB. Callers are expected to
// run Migrate before serving traffic.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the fixed schema. The process must not accept non-public
// traffic until this returns successfully.
func Migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("persistence: migration failed: %w", err)
		}
	}
	return nil
}
