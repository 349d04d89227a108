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

package persistence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"fabricctl/internal/model"
)

// IdemShim adapts an IdempotentPersister to the model.Persister interface
// used by the health checker's blacklist store, the alert journal and the
// flow-audit sink. It generates idempotency CommitIDs for each entry.
//
// Note: for a real deployment you should provide stable IDs across retries.
// This shim generates fresh random IDs per call, which is sufficient for
// at-least-once callers that tolerate a narrow window of double-apply on
// crash-then-retry, and avoids introducing an external ID generator.
type IdemShim struct {
	impl IdempotentPersister
}

func NewIdemShim(impl IdempotentPersister) *IdemShim { return &IdemShim{impl: impl} }

// CommitBatch maps model.Commit -> CommitEntry and forwards to the idempotent persister.
func (s *IdemShim) CommitBatch(commits []model.Commit) error {
	if len(commits) == 0 {
		return nil
	}
	entries := make([]CommitEntry, len(commits))
	now := time.Now().UnixNano()
	for i, c := range commits {
		id := randomID()
		entries[i] = CommitEntry{Key: c.Key, Vector: c.Vector, CommitID: id}
		// note: FencingToken omitted in demo
		_ = now // reserved in case we switch to time-based ULIDs later
	}
	return s.impl.CommitBatch(context.Background(), entries)
}

// PrintFinalMetrics is a no-op for the shim; it prints no summary of its own.
func (s *IdemShim) PrintFinalMetrics() {}

// LoadCounters forwards to the wrapped IdempotentPersister, converting its
// CounterSnapshot to the plain map model.Persister callers expect.
func (s *IdemShim) LoadCounters(prefix string) (map[string]int64, error) {
	snap, err := s.impl.LoadCounters(context.Background(), prefix)
	if err != nil {
		return nil, err
	}
	return map[string]int64(snap), nil
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return string(dst)
}
