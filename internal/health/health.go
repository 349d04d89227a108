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

// Package health implements the central controller's synthetic health
// checker and the durable replacement blacklist described in spec §4.6.
// The consecutive-failure streak and unhealthy/blacklisted transitions
// follow the same failure-streak-then-trip-circuit shape used by the
// load-balancer health checks in the reference pack (zalando/skipper and
// 0xReLogic/Helios); the blacklist itself is persisted through the same
// model.Persister adapters the rate limiter used for durable counters.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/model"
	"fabricctl/internal/power"
	"fabricctl/internal/telemetry/obs"
)

// blacklistKeyPrefix namespaces blacklist commits within the shared
// model.Persister keyspace (the alert journal and the flow-audit sink
// commit under their own key prefixes).
const blacklistKeyPrefix = "blacklist:"

// Prober issues the synthetic probe against a backend. Implementations
// must honor ctx's deadline.
type Prober interface {
	Probe(ctx context.Context, backend model.Backend) error
}

// HTTPProber probes a backend with a GET request and treats any
// non-2xx/network-error response as a failure.
type HTTPProber struct {
	Path    string
	Timeout time.Duration
	Get     func(ctx context.Context, url string) error
}

func (p HTTPProber) Probe(ctx context.Context, backend model.Backend) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return p.Get(ctx, "http://"+backend.Address+p.Path)
}

const failureThreshold = 3
const resetSuccessesNeeded = 2

// lifecycleView is the slice of capacity.Controller the health checker
// depends on, kept as an interface to avoid an import cycle (capacity
// already depends on nothing in health).
type lifecycleView interface {
	State() map[string]model.BackendState
	SetHealthy(id string, healthy bool)
}

type tracked struct {
	mu             sync.Mutex
	failures       int
	blacklisted    bool
	resetSuccesses int
}

// Checker runs the periodic probe loop, the replacement flow, and the
// persisted blacklist.
type Checker struct {
	pool      map[string]model.Backend
	lifecycle lifecycleView
	prober    Prober
	hv        power.Hypervisor
	journal   *alert.Journal
	persister model.Persister

	mu      sync.Mutex
	state   map[string]*tracked
	// selected records, per tier, which backend id is the tier's unique
	// selected target for replacement purposes.
	selected map[model.Tier]string
}

// New constructs a Checker. pool is the full static backend descriptor
// set; persister may be nil for an in-memory-only blacklist (tests).
func New(pool []model.Backend, lifecycle lifecycleView, prober Prober, hv power.Hypervisor, journal *alert.Journal, persister model.Persister) *Checker {
	c := &Checker{
		pool:      make(map[string]model.Backend, len(pool)),
		lifecycle: lifecycle,
		prober:    prober,
		hv:        hv,
		journal:   journal,
		persister: persister,
		state:     make(map[string]*tracked),
		selected:  make(map[model.Tier]string),
	}
	for _, b := range pool {
		c.pool[b.ID] = b
		c.state[b.ID] = &tracked{}
		if _, ok := c.selected[b.Tier]; !ok {
			c.selected[b.Tier] = b.ID
		}
	}
	c.rehydrateBlacklist()
	return c
}

// rehydrateBlacklist reads back every persisted "blacklist:"-prefixed
// counter and unions it with the in-memory defaults (all false, since a
// freshly constructed Checker has no other source of blacklist state).
// Per spec §4.6/§9, the blacklist must survive a process restart: the
// persister is the only thing that actually does, so this is the only
// place startup state comes from besides the zero value.
func (c *Checker) rehydrateBlacklist() {
	if c.persister == nil {
		return
	}
	snapshot, err := c.persister.LoadCounters(blacklistKeyPrefix)
	if err != nil {
		if c.journal != nil {
			c.journal.Raise(model.SeverityWarning, "health", "blacklist rehydration failed",
				fmt.Sprintf("falling back to an empty blacklist: %v", err), nil)
		}
		return
	}
	for key, scalar := range snapshot {
		if scalar == 0 {
			continue
		}
		id := strings.TrimPrefix(key, blacklistKeyPrefix)
		t, ok := c.state[id]
		if !ok {
			continue
		}
		t.blacklisted = true
		obs.BlacklistSize.Inc()
	}
}

// Tick probes every ON backend exactly once and applies the resulting
// transitions.
func (c *Checker) Tick(ctx context.Context) {
	states := c.lifecycle.State()
	for id, st := range states {
		if st.Life != model.StateOn {
			continue
		}
		backend, ok := c.pool[id]
		if !ok {
			continue
		}
		err := c.prober.Probe(ctx, backend)
		c.observe(id, backend, err == nil)
	}
}

func (c *Checker) observe(id string, backend model.Backend, ok bool) {
	c.mu.Lock()
	t := c.state[id]
	c.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.blacklisted {
		if ok {
			t.resetSuccesses++
			if t.resetSuccesses >= resetSuccessesNeeded {
				c.unblacklist(id, t)
			}
		} else {
			t.resetSuccesses = 0
		}
		return
	}

	if ok {
		if t.failures > 0 {
			t.failures = 0
		}
		c.lifecycle.SetHealthy(id, true)
		return
	}

	t.failures++
	obs.HealthProbeFailures.WithLabelValues(id).Inc()
	if t.failures < failureThreshold {
		return
	}

	c.lifecycle.SetHealthy(id, false)

	if c.isUniqueSelected(backend.ID, backend.Tier) {
		c.replace(backend)
		c.blacklist(id, t)
	}
	// Redundant backends simply stay unhealthy; the edge controller stops
	// selecting them via the published status document.
}

func (c *Checker) isUniqueSelected(id string, tier model.Tier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected[tier] == id
}

// replace picks an OFF backend of the same tier (or the next tier up) that
// is not blacklisted, and powers it on to stand in for the failed target.
func (c *Checker) replace(failed model.Backend) {
	states := c.lifecycle.State()
	candidate := c.pickReplacement(failed.Tier, states)
	if candidate == "" {
		if c.journal != nil {
			c.journal.Raise(model.SeverityCritical, "health", "no replacement available",
				fmt.Sprintf("backend %s failed and no OFF replacement of tier %d or above was found", failed.ID, failed.Tier), nil)
		}
		return
	}
	c.mu.Lock()
	c.selected[failed.Tier] = candidate
	c.mu.Unlock()
	if c.hv != nil {
		if err := c.hv.PowerOn(c.pool[candidate]); err != nil && c.journal != nil {
			c.journal.Raise(model.SeverityCritical, "health", "replacement power-on failed",
				fmt.Sprintf("backend %s: %v", candidate, err), nil)
		}
	}
}

func (c *Checker) pickReplacement(tier model.Tier, states map[string]model.BackendState) string {
	for _, wantTier := range []model.Tier{tier, tier + 1} {
		for id, b := range c.pool {
			if b.Tier != wantTier {
				continue
			}
			c.mu.Lock()
			t := c.state[id]
			c.mu.Unlock()
			t.mu.Lock()
			blacklisted := t.blacklisted
			t.mu.Unlock()
			if blacklisted {
				continue
			}
			if states[id].Life == model.StateOff {
				return id
			}
		}
	}
	return ""
}

func (c *Checker) blacklist(id string, t *tracked) {
	t.blacklisted = true
	t.resetSuccesses = 0
	obs.BlacklistSize.Inc()
	if c.persister != nil {
		_ = c.persister.CommitBatch([]model.Commit{{Key: "blacklist:" + id, Vector: 1}})
	}
	if c.hv != nil {
		backend := c.pool[id]
		go func() {
			if err := c.hv.HardReset(backend); err != nil && c.journal != nil {
				c.journal.Raise(model.SeverityWarning, "health", "hard reset failed",
					fmt.Sprintf("backend %s: %v", id, err), nil)
			}
		}()
	}
	if c.journal != nil {
		c.journal.Raise(model.SeverityCritical, "health", "backend blacklisted",
			fmt.Sprintf("backend %s failed %d consecutive probes; hard reset issued", id, failureThreshold), nil)
	}
}

func (c *Checker) unblacklist(id string, t *tracked) {
	t.blacklisted = false
	t.failures = 0
	t.resetSuccesses = 0
	obs.BlacklistSize.Dec()
	if c.persister != nil {
		_ = c.persister.CommitBatch([]model.Commit{{Key: "blacklist:" + id, Vector: -1}})
	}
	if c.journal != nil {
		c.journal.Raise(model.SeverityInfo, "health", "backend removed from blacklist",
			fmt.Sprintf("backend %s passed %d post-reset probes", id, resetSuccessesNeeded), nil)
	}
}

// IsBlacklisted reports whether id is currently blacklisted.
func (c *Checker) IsBlacklisted(id string) bool {
	c.mu.Lock()
	t, ok := c.state[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blacklisted
}
