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

// Package capacity implements the central controller's backend lifecycle
// state machine (OFF/STARTING/ON/DRAINING/STOPPING) and the proactive
// (forecast-driven) and reactive (sliding-window) tier selection rules.
//
// The store-of-managed-instances shape follows the rate limiter's
// sync.Map-backed Store: GetOrCreate-by-key, a background tick loop that
// walks every entry, and a hysteresis flag guarding state transitions —
// the same structure, applied to backend lifecycle instead of commit
// thresholds.
package capacity

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/model"
	"fabricctl/internal/telemetry/obs"
)

const (
	stabilisationPeriod = 80 * time.Second
	drainPeriod         = 30 * time.Second
	overloadWindow      = 5 * time.Minute
	idleWindow          = 30 * time.Minute
	overloadCPU         = 90.0
	overloadMem         = 90.0
	idleCPU             = 3.0
	idleMem             = 20.0
)

// PowerActuator starts or stops a backend's hypervisor-managed instance.
// Implemented by internal/power; kept as an interface here so capacity has
// no hypervisor-client dependency.
type PowerActuator interface {
	PowerOn(backend model.Backend) error
	PowerOff(backend model.Backend) error
}

type sampleAt struct {
	at  time.Time
	cpu float64
	mem float64
}

type managedBackend struct {
	desc  model.Backend
	mu    sync.Mutex
	state model.BackendState
	// window holds the recent (cpu, mem) samples used by the reactive rule,
	// pruned to the longest window we evaluate (idleWindow).
	window []sampleAt
}

// Controller owns BackendState for every backend in the pool and drives the
// proactive/reactive tier state machine described in spec §4.5.
type Controller struct {
	ladder   model.Ladder
	journal  *alert.Journal
	actuator PowerActuator

	mu       sync.RWMutex
	backends map[string]*managedBackend
	order    []string // stable iteration order for deterministic DWRS input elsewhere
}

// New constructs a Controller for the given backend pool. Every backend
// starts OFF.
func New(pool []model.Backend, ladder model.Ladder, journal *alert.Journal, actuator PowerActuator) *Controller {
	c := &Controller{
		ladder:   ladder,
		journal:  journal,
		actuator: actuator,
		backends: make(map[string]*managedBackend, len(pool)),
	}
	for _, b := range pool {
		c.backends[b.ID] = &managedBackend{
			desc:  b,
			state: model.BackendState{Life: model.StateOff, EnteredAt: time.Now()},
		}
		c.order = append(c.order, b.ID)
	}
	sort.Strings(c.order)
	return c
}

// IngestSample records a fresh LiveSample for the reactive sliding window.
// For a STARTING backend this supplies the "first fresh sample" half of the
// stabilisation transition; Tick promotes it to ON once the stabilisation
// period has also elapsed.
func (c *Controller) IngestSample(id string, s model.LiveSample) {
	c.mu.RLock()
	mb, ok := c.backends[id]
	c.mu.RUnlock()
	if !ok || !s.Fresh {
		return
	}
	now := time.Now()
	mb.mu.Lock()
	mb.window = append(mb.window, sampleAt{at: now, cpu: s.CPUPercent, mem: s.MemoryPercent})
	cutoff := now.Add(-idleWindow)
	i := 0
	for i < len(mb.window) && mb.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		mb.window = mb.window[i:]
	}
	mb.mu.Unlock()
}

// State returns a snapshot of BackendState for every backend, keyed by id.
func (c *Controller) State() map[string]model.BackendState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.BackendState, len(c.backends))
	for id, mb := range c.backends {
		mb.mu.Lock()
		out[id] = mb.state
		mb.mu.Unlock()
	}
	return out
}

// SetHealthy implements the "ON -> ON (in-place) when only health flips"
// transition: health never changes Life on its own.
func (c *Controller) SetHealthy(id string, healthy bool) {
	c.mu.RLock()
	mb, ok := c.backends[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	mb.mu.Lock()
	mb.state.Healthy = healthy
	mb.mu.Unlock()
}

// Tick evaluates the proactive and reactive rules against the current
// forecast tier and schedules the minimal set of transitions to reach the
// resulting target tier, per spec §4.5's tie-break rule.
func (c *Controller) Tick(forecast model.Forecast) {
	proactiveTier := c.ladder.TierForForecast(forecast.Value)
	overloaded, idle := c.reactiveSignal()

	target := proactiveTier
	if overloaded && target < model.Tier3 {
		target++
	}
	if target < model.Tier1 {
		target = model.Tier1
	}
	if idle && target > model.Tier1 {
		target--
	}
	if target > model.Tier3 {
		target = model.Tier3
	}

	now := time.Now()
	online := 0
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()

	// targetTierOnline records whether some backend of the target tier had
	// already reached ON before this tick started. Per spec §4.5's
	// tie-break rule (and the §8 invariant it protects: the incoming
	// backend must reach ON strictly before any outgoing backend enters
	// DRAINING), an out-of-tier ON backend may only be drained once the
	// target tier is already live; otherwise it waits for a later tick.
	targetTierOnline := false
	for _, id := range ids {
		c.mu.RLock()
		mb := c.backends[id]
		c.mu.RUnlock()
		mb.mu.Lock()
		if mb.desc.Tier == target && mb.state.Life == model.StateOn {
			targetTierOnline = true
		}
		mb.mu.Unlock()
		if targetTierOnline {
			break
		}
	}

	for _, id := range ids {
		c.mu.RLock()
		mb := c.backends[id]
		c.mu.RUnlock()

		mb.mu.Lock()
		switch mb.state.Life {
		case model.StateOff:
			if mb.desc.Tier == target {
				c.transition(id, mb, model.StateStarting)
				if c.actuator != nil {
					go func(b model.Backend) {
						if err := c.actuator.PowerOn(b); err != nil && c.journal != nil {
							c.journal.Raise(model.SeverityCritical, "capacity", "power-on failed",
								fmt.Sprintf("backend %s: %v", b.ID, err), nil)
						}
					}(mb.desc)
				}
			}
		case model.StateStarting:
			if now.Sub(mb.state.EnteredAt) >= stabilisationPeriod && mb.fresh(now) {
				c.transition(id, mb, model.StateOn)
			}
		case model.StateOn:
			online++
			if mb.desc.Tier != target && targetTierOnline {
				c.transition(id, mb, model.StateDraining)
			}
		case model.StateDraining:
			if now.Sub(mb.state.EnteredAt) >= drainPeriod {
				c.transition(id, mb, model.StateStopping)
				if c.actuator != nil {
					go func(b model.Backend) {
						if err := c.actuator.PowerOff(b); err != nil && c.journal != nil {
							c.journal.Raise(model.SeverityCritical, "capacity", "power-off failed",
								fmt.Sprintf("backend %s: %v", b.ID, err), nil)
							return
						}
						c.MarkPoweredOff(b.ID)
					}(mb.desc)
				}
			}
		case model.StateStopping:
			// awaiting MarkPoweredOff from the actuator callback.
		}
		mb.mu.Unlock()
	}
	obs.BackendsOnline.Set(float64(online))
}

// MarkPoweredOff completes STOPPING -> OFF once the hypervisor confirms
// power-off.
func (c *Controller) MarkPoweredOff(id string) {
	c.mu.RLock()
	mb, ok := c.backends[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	mb.mu.Lock()
	if mb.state.Life == model.StateStopping {
		c.transition(id, mb, model.StateOff)
	}
	mb.mu.Unlock()
}

// fresh reports whether the backend's window ends with a sample recorded
// within the last stabilisation-period window; caller holds mb.mu.
func (mb *managedBackend) fresh(now time.Time) bool {
	if len(mb.window) == 0 {
		return false
	}
	return now.Sub(mb.window[len(mb.window)-1].at) <= stabilisationPeriod
}

// reactiveSignal evaluates the overloaded/idle predicates across the whole
// pool's sliding windows, per spec §4.5.
func (c *Controller) reactiveSignal() (overloaded, idle bool) {
	now := time.Now()
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()

	overloaded = false
	idle = false
	for _, id := range ids {
		c.mu.RLock()
		mb := c.backends[id]
		c.mu.RUnlock()

		mb.mu.Lock()
		if mb.state.Life == model.StateOn {
			if allAbove(mb.window, now, overloadWindow, overloadCPU, overloadMem, true) {
				overloaded = true
			}
			if allBelow(mb.window, now, idleWindow, idleCPU, idleMem) {
				idle = true
			}
		}
		mb.mu.Unlock()
	}
	return overloaded, idle
}

// allAbove reports whether every sample within the trailing window
// satisfies cpu>=cpuT OR mem>=memT (orMode=true), requiring at least one
// sample to exist.
func allAbove(w []sampleAt, now time.Time, window time.Duration, cpuT, memT float64, orMode bool) bool {
	cutoff := now.Add(-window)
	n := 0
	for _, s := range w {
		if s.at.Before(cutoff) {
			continue
		}
		n++
		if orMode {
			if !(s.cpu >= cpuT || s.mem >= memT) {
				return false
			}
		} else {
			if !(s.cpu >= cpuT && s.mem >= memT) {
				return false
			}
		}
	}
	return n > 0
}

// allBelow reports whether every sample within the trailing window has
// cpu<=cpuT AND mem<=memT, requiring at least one sample to exist.
func allBelow(w []sampleAt, now time.Time, window time.Duration, cpuT, memT float64) bool {
	cutoff := now.Add(-window)
	n := 0
	for _, s := range w {
		if s.at.Before(cutoff) {
			continue
		}
		n++
		if !(s.cpu <= cpuT && s.mem <= memT) {
			return false
		}
	}
	return n > 0
}

// transition applies a Life change, stamping EnteredAt and maintaining the
// Active/Draining invariant. Caller holds mb.mu.
func (c *Controller) transition(id string, mb *managedBackend, to model.LifecycleState) {
	mb.state.Life = to
	mb.state.EnteredAt = time.Now()
	switch to {
	case model.StateOff:
		mb.state.Active = false
		mb.state.Draining = false
	case model.StateStarting:
		mb.state.Active = false
		mb.state.Draining = false
	case model.StateOn:
		mb.state.Active = true
		mb.state.Draining = false
		mb.state.Healthy = true
	case model.StateDraining:
		mb.state.Active = true
		mb.state.Draining = true
	case model.StateStopping:
		mb.state.Active = false
		mb.state.Draining = false
	}
	obs.BackendStateTransitions.WithLabelValues(id, string(to)).Inc()
}
