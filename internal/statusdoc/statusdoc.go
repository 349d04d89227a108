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

// Package statusdoc writes and ships the authoritative BackendState
// document the edge controller reads on every tick (spec §4.7). Writes to
// local stable storage follow internal/sinks' buffered-JSON-encode style,
// but substitute a single atomic-rename whole-document write for the
// append-only JSONL pattern the telemetry sinks use, since the status
// document is replace-in-place rather than append-only.
package statusdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fabricctl/internal/model"
)

// Entry is one backend's published status, keyed by address in Document.
type Entry struct {
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Active   bool   `json:"active"`
	Draining bool   `json:"draining"`
	Healthy  bool   `json:"healthy"`
}

// Document is the wire shape written to local storage and shipped to the
// edge controller: an object keyed by backend address.
type Document map[string]Entry

// Build assembles a Document from the capacity controller's backend pool
// and its current per-backend lifecycle state, keyed by address per the
// edge controller's external contract.
func Build(pool []model.Backend, states map[string]model.BackendState) Document {
	doc := make(Document, len(pool))
	for _, b := range pool {
		st := states[b.ID]
		doc[b.Address] = Entry{
			Name:     b.ID,
			IP:       b.Address,
			Active:   st.Active,
			Draining: st.Draining,
			Healthy:  st.Healthy,
		}
	}
	return doc
}

// Syncer writes the status document atomically to a local path and ships
// it to a remote path (which may be the same filesystem mounted by the
// edge controller, or a path a sidecar copies out-of-band).
type Syncer struct {
	localPath  string
	remotePath string

	mu           sync.Mutex
	lastSyncedAt time.Time
}

// New constructs a Syncer. remotePath may equal localPath when the edge
// controller reads the same filesystem; otherwise it is a second
// atomic-rename target this process can reach directly (e.g. a shared
// volume) — forwarding over the network is the sidecar's job, not this
// package's.
func New(localPath, remotePath string) *Syncer {
	return &Syncer{localPath: localPath, remotePath: remotePath}
}

// Write serializes doc and atomically replaces both the local and remote
// copies. A failure to reach the remote path is logged but does not fail
// the call: spec §4.7 treats sync failure as non-fatal, since the central
// controller re-ships on the next transition or heartbeat.
func (s *Syncer) Write(doc Document) error {
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("statusdoc: marshal: %w", err)
	}

	if err := atomicWrite(s.localPath, buf); err != nil {
		return fmt.Errorf("statusdoc: write local: %w", err)
	}

	s.mu.Lock()
	s.lastSyncedAt = time.Now()
	s.mu.Unlock()

	if s.remotePath != "" && s.remotePath != s.localPath {
		if err := atomicWrite(s.remotePath, buf); err != nil {
			fmt.Printf("[statusdoc] WARNING: remote sync failed (non-fatal, will retry next transition/heartbeat): %v\n", err)
			return nil
		}
	}
	return nil
}

// ShouldHeartbeat reports whether at least one minute has elapsed since
// the last successful local write, per the "at most one heartbeat per
// minute" cap in spec §4.7.
func (s *Syncer) ShouldHeartbeat() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSyncedAt) >= time.Minute
}

// atomicWrite writes data to a temp file in the same directory as path
// and renames it into place, so readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".statusdoc-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Reader is the edge controller's side: re-read the document on every
// tick, tolerating a missing/corrupt file by returning an error so the
// caller can retain its last-known-good copy.
func Read(path string) (Document, error) {
	var doc Document
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}
