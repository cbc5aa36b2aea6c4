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

// Package export's DLQ is an append-only JSONL file of failed batches,
// guarded by a mutex around a buffered writer, adapted here from a pure
// write-behind log into a mutable store, since entries must be
// removed on successful replay and re-written with updated attempt counts.
package export

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"flowgate/internal/types"
)

// DLQ holds batches that failed final delivery until they are redelivered
// or age past the retention horizon. State lives in memory; every change
// rewrites the whole file at path so a restart can recover in-flight
// entries (best-effort — durable storage of raw telemetry is explicitly out
// of scope, but DLQ entries are operational metadata, not raw telemetry).
type DLQ struct {
	mu        sync.Mutex
	entries   map[string]*types.DLQEntry
	path      string
	retention time.Duration
}

// NewDLQ returns an empty DLQ. path may be empty to disable on-disk
// persistence (in-memory only).
func NewDLQ(path string, retention time.Duration) *DLQ {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	d := &DLQ{entries: make(map[string]*types.DLQEntry), path: path, retention: retention}
	if path != "" {
		d.loadFromDisk()
	}
	return d
}

func (d *DLQ) loadFromDisk() {
	f, err := os.Open(d.path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)
	for scanner.Scan() {
		var e types.DLQEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			d.entries[e.ID] = &e
		}
	}
}

// persistLocked rewrites the entire DLQ file from in-memory state. Called
// with d.mu held; acceptable cost given DLQ entries are rare relative to
// the ingest hot path.
func (d *DLQ) persistLocked() {
	if d.path == "" {
		return
	}
	f, err := os.Create(d.path)
	if err != nil {
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range d.entries {
		_ = enc.Encode(e)
	}
	_ = w.Flush()
}

// Add appends a newly-failed batch to the DLQ.
func (d *DLQ) Add(entry types.DLQEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[entry.ID] = &entry
	d.persistLocked()
}

// Remove deletes an entry, typically after a successful replay.
func (d *DLQ) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
	d.persistLocked()
}

// RecordAttempt updates attempt bookkeeping on a replay failure without
// removing the entry.
func (d *DLQ) RecordAttempt(id string, at time.Time, nextEligible time.Time, lastErr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return
	}
	e.Attempts++
	e.LastAttempt = at
	e.NextEligible = nextEligible
	e.LastError = lastErr
	d.persistLocked()
}

// PruneExpired removes entries whose first attempt is older than the
// retention horizon, returning how many were dropped.
func (d *DLQ) PruneExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, e := range d.entries {
		if now.Sub(e.FirstAttempt) > d.retention {
			delete(d.entries, id)
			removed++
		}
	}
	if removed > 0 {
		d.persistLocked()
	}
	return removed
}

// Eligible returns a snapshot of entries whose NextEligible has passed,
// ready for a replay attempt.
func (d *DLQ) Eligible(now time.Time) []types.DLQEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.DLQEntry, 0)
	for _, e := range d.entries {
		if !now.Before(e.NextEligible) {
			out = append(out, *e)
		}
	}
	return out
}

// Len reports the current DLQ size, for observability.
func (d *DLQ) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
