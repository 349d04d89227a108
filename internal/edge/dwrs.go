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

// Package edge implements the edge controller: the DWRS (Dynamic Weighted
// Random Selection) backend selector, the single-rule NAT commit, and the
// tick-driven control loop that ties them together (spec §4.1-4.3).
package edge

import (
	"sort"

	"fabricctl/internal/model"
)

// Candidate is a backend plus the LiveSample the edge controller will
// score it with.
type Candidate struct {
	Backend model.Backend
	Sample  model.LiveSample
}

// Select runs DWRS over candidates: pure and deterministic given
// (candidates, x). x must be drawn uniformly from [1, W] by the caller,
// where W is the sum of integer weights Select would compute; callers
// that don't already know W can call TotalWeight first.
//
// Returns ok=false when candidates is empty (spec: "With none, signal no
// candidate").
func Select(candidates []Candidate, x int) (chosen model.Backend, ok bool) {
	ordered := stableOrder(candidates)
	if len(ordered) == 0 {
		return model.Backend{}, false
	}
	if len(ordered) == 1 {
		return ordered[0].Backend, true
	}
	running := 0
	for _, c := range ordered {
		running += weight(c.Sample)
		if running >= x {
			return c.Backend, true
		}
	}
	// x was out of range (caller bug); fall back to the last candidate
	// rather than signaling no-candidate, since the set is non-empty.
	return ordered[len(ordered)-1].Backend, true
}

// TotalWeight returns W = sum(w_i) for the given candidate set in the same
// stable order Select uses, so callers can draw x uniformly from [1, W].
func TotalWeight(candidates []Candidate) int {
	var w int
	for _, c := range stableOrder(candidates) {
		w += weight(c.Sample)
	}
	return w
}

// weight converts a LiveSample into DWRS's integer weight:
// L = 0.55*cpu + 0.45*memory; w = max(1, 100 - floor(L)); L>=100 => w=1.
func weight(s model.LiveSample) int {
	l := 0.55*s.CPUPercent + 0.45*s.MemoryPercent
	if l >= 100 {
		return 1
	}
	w := 100 - int(l)
	if w < 1 {
		w = 1
	}
	return w
}

// stableOrder sorts candidates by backend id so repeated calls over the
// same set walk them in the same order, matching the spec's requirement
// that the selector be deterministic given (candidates, samples, x).
func stableOrder(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].Backend.ID < out[j].Backend.ID })
	return out
}
