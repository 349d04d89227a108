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

// Package sdn implements the SDN-side path selector: a smoothed-WRR spine
// choice per leaf pair with 5-tuple sticky flows, and the three-device
// flow-rule install described in spec §4.11.
package sdn

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/model"
	"fabricctl/internal/path"
)

// idleTimeout is how long a cached flow entry survives without traffic
// before its rules are eligible for eviction (spec §4.11).
const idleTimeout = 300 * time.Second

// FlowKey identifies a flow by its 5-tuple. For ICMP, SrcPort/DstPort
// carry the type/code pair in place of ports.
type FlowKey struct {
	SrcIP, DstIP     string
	Proto            uint8
	SrcPort, DstPort uint16
}

// HostLocator maps a host IP to the leaf switch it is attached to.
type HostLocator interface {
	LeafFor(ip string) (leaf string, ok bool)
}

// FlowInstaller installs the OpenFlow-equivalent rules for a decided flow.
// InstallCrossLeaf must install the symmetric forward rules on the source
// leaf, the chosen spine, and the destination leaf, plus the three reverse
// rules on the same spine (spec §4.11). InstallSameLeaf installs the
// single same-leaf forwarding rule.
type FlowInstaller interface {
	InstallCrossLeaf(ctx context.Context, srcLeaf, spine, dstLeaf string, flow FlowKey) error
	InstallSameLeaf(ctx context.Context, leaf string, flow FlowKey) error
}

type flowState struct {
	spine    string
	lastSeen time.Time
}

type pairState struct {
	spines []string // spines[0] backs R0, spines[1] backs R1
	e0, e1 int64
	c0, c1 int64
}

// Selector is the per-route smoothed-WRR accumulator plus the sticky-flow
// cache.
type Selector struct {
	locator   HostLocator
	installer FlowInstaller
	journal   *alert.Journal

	mu    sync.Mutex
	pairs map[string]*pairState
	flows map[FlowKey]*flowState
}

// New constructs a Selector.
func New(locator HostLocator, installer FlowInstaller, journal *alert.Journal) *Selector {
	return &Selector{
		locator:   locator,
		installer: installer,
		journal:   journal,
		pairs:     make(map[string]*pairState),
		flows:     make(map[FlowKey]*flowState),
	}
}

// LoadWeights installs a fresh weight document: effective integer weights
// are recomputed by rounding 100*r_i, and every pair's accumulator resets
// to (0,0) so new flows see the new distribution immediately. In-progress
// flows are untouched; they keep their cached spine until they idle out.
func (s *Selector) LoadWeights(pairs []path.Pair, doc path.Document) {
	next := make(map[string]*pairState, len(pairs))
	for _, pr := range pairs {
		key := pr.LeafA + "->" + pr.LeafB
		pw, ok := doc.PathSelectionWeights[key]
		if !ok {
			continue
		}
		ps := &pairState{spines: spineList(pr)}
		ps.e0 = int64(math.Round(100 * pw.PathDetails.Path0.SelectionRatio))
		if pw.PathDetails.Path1 != nil {
			ps.e1 = int64(math.Round(100 * pw.PathDetails.Path1.SelectionRatio))
		}
		next[key] = ps
	}
	s.mu.Lock()
	s.pairs = next
	s.mu.Unlock()
}

func spineList(pr path.Pair) []string {
	out := make([]string, 0, len(pr.Paths))
	for _, p := range pr.Paths {
		out = append(out, p.Spine)
	}
	return out
}

// OnPacket handles the first packet of a flow: drop multicast/broadcast
// and unknown-host traffic, install a single same-leaf rule when both
// hosts share a leaf, otherwise pick a spine via smoothed WRR and install
// the three-device cross-leaf rule set. Subsequent packets of an already-
// cached flow are a sticky no-op refreshing lastSeen.
func (s *Selector) OnPacket(ctx context.Context, flow FlowKey) error {
	if isMulticastOrBroadcast(flow.DstIP) {
		return nil
	}
	srcLeaf, ok := s.locator.LeafFor(flow.SrcIP)
	if !ok {
		return nil
	}
	dstLeaf, ok := s.locator.LeafFor(flow.DstIP)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if fs, cached := s.flows[flow]; cached {
		fs.lastSeen = time.Now()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if srcLeaf == dstLeaf {
		if err := s.installer.InstallSameLeaf(ctx, srcLeaf, flow); err != nil {
			return err
		}
		s.mu.Lock()
		s.flows[flow] = &flowState{lastSeen: time.Now()}
		s.mu.Unlock()
		return nil
	}

	spine, ok := s.choose(srcLeaf, dstLeaf)
	if !ok {
		if s.journal != nil {
			s.journal.Raise(model.SeverityWarning, "sdn", "no weights for leaf pair",
				srcLeaf+"<->"+dstLeaf, nil)
		}
		return nil
	}
	if err := s.installer.InstallCrossLeaf(ctx, srcLeaf, spine, dstLeaf, flow); err != nil {
		return err
	}
	s.mu.Lock()
	s.flows[flow] = &flowState{spine: spine, lastSeen: time.Now()}
	s.mu.Unlock()
	return nil
}

// choose runs one smoothed-WRR selection for the leaf pair (spec §4.11):
// c_i += e_i for each candidate, pick argmax, then subtract the total
// effective weight from the chosen accumulator.
func (s *Selector) choose(leafA, leafB string) (string, bool) {
	key := leafA + "->" + leafB
	reversed := false
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.pairs[key]
	if !ok {
		key = leafB + "->" + leafA
		ps, ok = s.pairs[key]
		reversed = ok
	}
	if !ok || len(ps.spines) == 0 {
		return "", false
	}
	_ = reversed // pair ordering doesn't affect which physical spine is chosen
	if len(ps.spines) == 1 {
		return ps.spines[0], true
	}

	ps.c0 += ps.e0
	ps.c1 += ps.e1
	total := ps.e0 + ps.e1
	if ps.c0 >= ps.c1 {
		ps.c0 -= total
		return ps.spines[0], true
	}
	ps.c1 -= total
	return ps.spines[1], true
}

// EvictIdle drops cached flows that have been silent for longer than
// idleTimeout, so their rules can be reclaimed by the caller.
func (s *Selector) EvictIdle(now time.Time) []FlowKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []FlowKey
	for k, fs := range s.flows {
		if now.Sub(fs.lastSeen) > idleTimeout {
			evicted = append(evicted, k)
			delete(s.flows, k)
		}
	}
	return evicted
}

// isMulticastOrBroadcast reports whether dst is an IPv4 broadcast or
// multicast address; such packets are dropped at the selector rather than
// flooded (spec §4.11). ARP itself is delegated to an external ProxyARP
// and never reaches OnPacket.
func isMulticastOrBroadcast(dst string) bool {
	ip := net.ParseIP(dst)
	if ip == nil {
		return true // unparsable destination is treated as unknown/drop
	}
	if ip4 := ip.To4(); ip4 != nil {
		if ip4.Equal(net.IPv4bcast) {
			return true
		}
		return ip4.IsMulticast()
	}
	return ip.IsMulticast()
}
