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

// Package model defines the shared data types of the control plane: the
// static backend descriptor, the mutable per-backend state owned by the
// central controller, the live telemetry sample shape, the tier ladder,
// the traffic forecast, and the spine-leaf path types. These types cross
// package boundaries (capacity, edge, path, statusdoc) so they live here
// rather than in any one owner's package.
package model

import "time"

// Tier is one of three pre-declared capacity classes.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// Backend is the static, tiered descriptor for a backend server. It is
// never mutated at runtime; only BackendState changes.
type Backend struct {
	ID             string
	Address        string
	Tier           Tier
	CapacityCores  int
	CapacityMemory int64 // bytes
}

// LifecycleState is one of the five capacity-controller states.
type LifecycleState string

const (
	StateOff      LifecycleState = "OFF"
	StateStarting LifecycleState = "STARTING"
	StateOn       LifecycleState = "ON"
	StateDraining LifecycleState = "DRAINING"
	StateStopping LifecycleState = "STOPPING"
)

// BackendState is the authoritative, mutable per-backend state held by the
// central controller. Invariant: Draining implies Active.
type BackendState struct {
	Active   bool
	Draining bool
	Healthy  bool
	Life     LifecycleState
	// EnteredAt records when Life was last changed, used to evaluate the
	// stabilisation (80s) and drain (30s) timers.
	EnteredAt time.Time
}

// Valid reports whether the state satisfies the draining-implies-active
// invariant from spec §3.
func (s BackendState) Valid() bool {
	if s.Draining && !s.Active {
		return false
	}
	return true
}

// LiveSample is a single telemetry reading for one backend, derived from
// the external time-series DB. Fresh=false means the sample is missing or
// older than one poll interval.
type LiveSample struct {
	CPUPercent    float64
	MemoryPercent float64
	RPS           float64
	TotalMemory   int64
	TotalCores    int
	Fresh         bool
	ObservedAt    time.Time
}

// TierInterval is a half-open interval [Lower, Upper) on the forecast-
// requests axis mapped to a Tier.
type TierInterval struct {
	Tier  Tier
	Lower float64 // inclusive
	Upper float64 // exclusive; +Inf for the top tier
}

// Ladder is an ordered, partitioning set of TierIntervals covering
// [0, +Inf). TierForForecast relies on the intervals being sorted by
// Lower ascending and genuinely partitioning the axis.
type Ladder []TierInterval

// TierForForecast maps a forecast value to the unique tier whose interval
// contains it. Boundary values land in the interval containing their lower
// endpoint, consistent with spec §8's boundary-behaviour rule. A value no
// interval covers maps to the highest tier in the ladder. Panics if the
// ladder is empty.
func (l Ladder) TierForForecast(v float64) Tier {
	for _, iv := range l {
		if v >= iv.Lower && v < iv.Upper {
			return iv.Tier
		}
	}
	// Value is beyond every interval's upper bound (shouldn't happen if the
	// top interval's Upper is +Inf); fall back to the top tier.
	top := l[0].Tier
	for _, iv := range l {
		if iv.Tier > top {
			top = iv.Tier
		}
	}
	return top
}

// DefaultLadder is the reference tier-boundary policy. The exact interior
// endpoints are operational configuration, not contract (spec §9 Open
// Question (a)); this is the documented default used when no config
// overrides it.
func DefaultLadder() Ladder {
	return Ladder{
		{Tier: Tier1, Lower: 0, Upper: 100_000},
		{Tier: Tier2, Lower: 100_000, Upper: 500_000},
		{Tier: Tier3, Lower: 500_000, Upper: maxForecast},
	}
}

const maxForecast = 1 << 62

// Forecast is a cached traffic prediction, valid until the next natural
// clock-hour boundary.
type Forecast struct {
	Value      float64 // requests per hour
	ValidUntil time.Time
}

// Valid reports whether the forecast is still usable at instant now.
func (f Forecast) Valid(now time.Time) bool {
	return now.Before(f.ValidUntil)
}

// PathKey identifies a directed path (srcLeaf, spine, dstLeaf) in the
// spine-leaf fabric.
type PathKey struct {
	SrcLeaf string
	Spine   string
	DstLeaf string
}

// PathSample is bytes observed across a one-minute window for a path.
type PathSample struct {
	Path      PathKey
	Bytes     int64
	WindowEnd time.Time
}

// PathPrediction is the predicted bytes for a path's next window.
// Invariant: Predicted >= 0.
type PathPrediction struct {
	Path      PathKey
	Predicted float64
	Mode      PredictionMode
}

// PredictionMode records which regime produced a PathPrediction.
type PredictionMode string

const (
	ModeRealtime   PredictionMode = "realtime"
	ModePrediction PredictionMode = "prediction"
	ModeHybrid     PredictionMode = "hybrid"
)

// AlertSeverity classifies an Alert.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeveritySuccess  AlertSeverity = "success"
	SeverityInfo     AlertSeverity = "info"
)

// Alert is a single journal entry. Append-only; the journal enforces the
// size cap by evicting the oldest entries.
type Alert struct {
	ID           string                 `json:"id"`
	Type         AlertSeverity          `json:"type"`
	Category     string                 `json:"category"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Timestamp    time.Time              `json:"timestamp"`
	Acknowledged bool                   `json:"acknowledged"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Commit is a single logical-key delta to be applied by a Persister. It is
// the generalized form of the teacher's per-API-key rate-limiter commit:
// here Key is any domain counter identity (a blacklist entry id, an
// hourly traffic-history bucket, a per-path-day accuracy bucket) and
// Vector is the signed delta to apply.
type Commit struct {
	Key    string
	Vector int64
}

// Persister is the interface for any persistent storage implementation,
// letting callers swap the backend (mock/redis/kafka/postgres) without
// touching call sites.
type Persister interface {
	CommitBatch(commits []Commit) error
	PrintFinalMetrics()

	// LoadCounters returns the durable scalar for every persisted key
	// beginning with prefix, so a component can rehydrate in-memory state
	// at startup instead of assuming a cold, empty default. An adapter
	// backed by an append-only transport with no local materialization may
	// legitimately return an empty map and a nil error.
	LoadCounters(prefix string) (map[string]int64, error)
}
