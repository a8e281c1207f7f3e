// Copyright 2026 Atelier Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package workflow

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Catalog is the durable record of terminal workflows. Running state
// never touches the catalog; a row is written exactly once, when the
// workflow finishes.
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	task        TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	project_ref TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	turns_total INTEGER NOT NULL,
	turns_limit INTEGER NOT NULL,
	snapshot    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_finished ON workflows(finished_at DESC);
`

// OpenCatalog opens (creating if needed) the run catalog at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog pragma: %w", err)
		}
	}
	if _, err := db.Exec(catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Save records a terminal workflow. Saving the same id twice keeps the
// latest row.
func (c *Catalog) Save(snap *Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	finished := time.Now().UTC()
	if snap.FinishedAt != nil {
		finished = *snap.FinishedAt
	}
	_, err = c.db.Exec(`
		INSERT INTO workflows
			(id, task, status, reason, project_ref, started_at, finished_at, turns_total, turns_limit, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			finished_at = excluded.finished_at,
			turns_total = excluded.turns_total,
			snapshot = excluded.snapshot`,
		snap.ID, snap.Task, string(snap.Status), snap.Reason, snap.ProjectRef,
		snap.StartedAt, finished, snap.TurnsTotal, snap.TurnsLimit, string(blob),
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", snap.ID, err)
	}
	return nil
}

// Get loads a terminal workflow snapshot by id.
func (c *Catalog) Get(id string) (*Snapshot, error) {
	var blob string
	err := c.db.QueryRow(`SELECT snapshot FROM workflows WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &snap, nil
}

// List returns up to limit terminal workflows, most recently finished
// first. limit <= 0 selects a sane default.
func (c *Catalog) List(limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.Query(
		`SELECT snapshot FROM workflows ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(blob), &snap); err != nil {
			return nil, fmt.Errorf("decode workflow row: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}
