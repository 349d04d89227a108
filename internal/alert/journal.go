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

// Package alert implements the categorised, size-capped alert journal
// shared by every control-plane loop (capacity, health, edge, path,
// forecaster). Appends are thread-safe; the journal persists through a
// model.Persister so it survives a process restart, mirroring the way the
// rate limiter's store durably tracked per-key counters.
package alert

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"fabricctl/internal/model"
	"fabricctl/internal/telemetry/obs"
	"fabricctl/pkg/accum"
)

// sizeFlushThreshold bounds how many bytes of raised-alert text accumulate
// in memory before the running total is committed to durable storage as
// "journal:bytes", the same scalar/vector durability split the rate
// limiter's counters use.
const sizeFlushThreshold = 4096

// Journal is a thread-safe, size-capped, append-only alert log.
type Journal struct {
	mu        sync.Mutex
	entries   []model.Alert
	cap       int
	persister model.Persister

	// sizeBytes is a lock-free running total of raised alert text, so a hot
	// loop (capacity, health, edge, path) raising alerts concurrently never
	// contends with Raise's entries-slice mutex just to update a counter.
	sizeBytes *accum.Accumulator
}

// New creates a Journal holding at most capEntries alerts. When the cap is
// exceeded, the oldest entries are discarded. persister may be nil, in
// which case the journal is in-memory only (suitable for tests).
func New(capEntries int, persister model.Persister) *Journal {
	if capEntries <= 0 {
		capEntries = 500
	}
	return &Journal{cap: capEntries, persister: persister, sizeBytes: accum.New(0)}
}

// Raise appends a new alert of the given severity/category and returns its
// id. The persister, if configured, is notified with a Commit whose Vector
// is always 1 — the journal only needs the commit machinery to mark the
// append as durable, not to track a magnitude.
func (j *Journal) Raise(typ model.AlertSeverity, category, title, message string, extra map[string]interface{}) model.Alert {
	a := model.Alert{
		ID:        newID(),
		Type:      typ,
		Category:  category,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Extra:     extra,
	}
	j.mu.Lock()
	j.entries = append(j.entries, a)
	if over := len(j.entries) - j.cap; over > 0 {
		j.entries = j.entries[over:]
	}
	j.mu.Unlock()

	obs.AlertsRaisedTotal.WithLabelValues(string(typ)).Inc()
	if j.persister != nil {
		_ = j.persister.CommitBatch([]model.Commit{{Key: "alert:" + a.ID, Vector: 1}})
	}

	j.sizeBytes.Update(int64(len(category) + len(title) + len(message)))
	if due, vector := j.sizeBytes.CheckCommit(sizeFlushThreshold); due {
		j.sizeBytes.Commit(vector)
		if j.persister != nil {
			_ = j.persister.CommitBatch([]model.Commit{{Key: "journal:bytes", Vector: -vector}})
		}
	}
	return a
}

// SizeBytes reports the durable-plus-in-memory running total of raised
// alert text, for operators tracking journal growth independent of the
// capped entry count.
func (j *Journal) SizeBytes() int64 {
	// Commit lowers the scalar by each flushed amount, so the flushed total
	// is -scalar.
	scalar, vector := j.sizeBytes.State()
	return vector - scalar
}

// List returns a snapshot of all alerts currently in the journal, oldest
// first.
func (j *Journal) List() []model.Alert {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.Alert, len(j.entries))
	copy(out, j.entries)
	return out
}

// Acknowledge marks an alert read without removing it. Returns false if no
// alert with that id exists.
func (j *Journal) Acknowledge(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].ID == id {
			j.entries[i].Acknowledged = true
			return true
		}
	}
	return false
}

// Dismiss removes an alert from the journal. Returns false if no alert with
// that id exists.
func (j *Journal) Dismiss(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].ID == id {
			j.entries = append(j.entries[:i], j.entries[i+1:]...)
			return true
		}
	}
	return false
}

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
