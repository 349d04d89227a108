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

package edge

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/model"
	"fabricctl/internal/statusdoc"
	"fabricctl/internal/telemetry/metricsclient"
)

// staleCap bounds how old a status document can be before the edge loop
// refuses to act on it and instead holds its last-known-good state.
const staleCap = 2 * time.Minute

// Loop is the edge controller's tick-driven reconciliation loop: reload
// the status replica, recompute the DWRS candidate set, and commit via
// NAT (spec §4.3).
type Loop struct {
	statusPath string
	metrics    metricsclient.Client
	nat        NAT
	journal    *alert.Journal

	mu         sync.Mutex
	lastGood   statusdoc.Document
	haveGood   bool
	lastGoodAt time.Time
}

// NewLoop constructs an edge Loop reading the status replica at
// statusPath.
func NewLoop(statusPath string, metrics metricsclient.Client, nat NAT, journal *alert.Journal) *Loop {
	return &Loop{statusPath: statusPath, metrics: metrics, nat: nat, journal: journal}
}

// Tick performs one reconciliation pass.
func (l *Loop) Tick(ctx context.Context) {
	doc, err := statusdoc.Read(l.statusPath)
	l.mu.Lock()
	if err != nil {
		if l.journal != nil {
			l.journal.Raise(model.SeverityWarning, "edge", "status document unreadable",
				"retaining last-known state: "+err.Error(), nil)
		}
		if !l.haveGood || time.Since(l.lastGoodAt) > staleCap {
			l.mu.Unlock()
			// Either we never had a good copy, or it's too stale to trust:
			// do nothing this tick rather than act on stale/absent data.
			return
		}
		doc = l.lastGood
	} else {
		l.lastGood = doc
		l.haveGood = true
		l.lastGoodAt = time.Now()
	}
	l.mu.Unlock()

	candidates := make([]Candidate, 0, len(doc))
	for addr, entry := range doc {
		if !(entry.Active && !entry.Draining && entry.Healthy) {
			continue
		}
		sample, err := l.metrics.LiveSample(ctx, entry.Name)
		if err != nil || !sample.Fresh {
			continue
		}
		candidates = append(candidates, Candidate{
			Backend: model.Backend{ID: entry.Name, Address: addr},
			Sample:  sample,
		})
	}

	if len(candidates) == 0 {
		if l.journal != nil {
			l.journal.Raise(model.SeverityWarning, "edge", "no DWRS candidate",
				"no active/healthy/fresh backend available; retaining previous NAT target", nil)
		}
		return
	}

	w := TotalWeight(candidates)
	x := drawUniform(w)
	chosen, ok := Select(candidates, x)
	if !ok {
		return
	}
	if err := l.nat.Install(chosen.Address); err != nil && l.journal != nil {
		l.journal.Raise(model.SeverityCritical, "edge", "NAT install failed",
			err.Error(), nil)
	}
}

// Run drives Tick on a fixed ~10s interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// drawUniform returns a uniform random integer in [1, w]. w must be >= 1.
func drawUniform(w int) int {
	if w <= 1 {
		return 1
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := binary.BigEndian.Uint64(b[:])
	return int(n%uint64(w)) + 1
}
