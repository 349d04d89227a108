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
	"fmt"
	"strings"
	"sync"
	"time"

	"fabricctl/internal/model"
)

// NewMockPersister returns a dependency-free model.Persister that logs each
// commit batch to stdout. Useful for local runs of cmd/central without
// Redis/Postgres/Kafka wired up.
func NewMockPersister() model.Persister {
	return &mockPersister{counters: make(map[string]int64)}
}

type mockPersister struct {
	mu       sync.Mutex
	batches  int64
	rows     int64
	counters map[string]int64
}

func (p *mockPersister) CommitBatch(commits []model.Commit) error {
	if len(commits) == 0 {
		return nil
	}
	fmt.Printf("[%s] persisting batch of %d commits\n", time.Now().Format(time.RFC3339), len(commits))
	p.mu.Lock()
	for _, c := range commits {
		fmt.Printf("  - KEY: %-32s VECTOR: %d\n", c.Key, c.Vector)
		// convention: durable scalar = scalar - Vector (internal/persistence/types.go)
		p.counters[c.Key] -= c.Vector
	}
	p.batches++
	p.rows += int64(len(commits))
	p.mu.Unlock()
	return nil
}

// LoadCounters returns the current in-process scalar for every key with
// the given prefix. Since this adapter never survives a process restart,
// this only rehydrates state across a Checker being rebuilt within the
// same process (tests, reloads) — a real restart-survival guarantee needs
// the redis/postgres adapter.
func (p *mockPersister) LoadCounters(prefix string) (map[string]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64)
	for k, v := range p.counters {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (p *mockPersister) PrintFinalMetrics() {
	p.mu.Lock()
	batches, rows := p.batches, p.rows
	p.mu.Unlock()
	fmt.Printf("persistence summary: %d batches, %d rows committed\n", batches, rows)
}
