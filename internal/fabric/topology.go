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

// Package fabric models the spine-leaf SDN topology the path telemetry
// collector and weight publisher operate over. It builds the fabric as a
// thread-safe undirected adjacency-list graph using
// github.com/katalvlaran/lvlath/graph/core, the same graph primitive used
// elsewhere in the reference pack for topology modeling, rather than
// hand-rolling adjacency maps.
package fabric

import (
	"sort"
	"sync"

	lvgraph "github.com/katalvlaran/lvlath/graph/core"

	"fabricctl/internal/model"
)

const (
	roleLeaf  = "leaf"
	roleSpine = "spine"
)

// Topology is the spine-leaf fabric: a bipartite graph of leaf and spine
// switches, with an edge for every uplink. Port/link failures are modeled
// by removing the corresponding edge, which PathsForPair and Paths pick up
// on their next call.
type Topology struct {
	mu     sync.RWMutex
	g      *lvgraph.Graph
	leaves []string
	spines []string
}

// NewSpineLeaf builds a fully-meshed spine-leaf fabric: every leaf has an
// uplink to every spine.
func NewSpineLeaf(leaves, spines []string) *Topology {
	t := &Topology{g: lvgraph.NewGraph(false, false)}
	for _, l := range leaves {
		t.g.AddVertex(&lvgraph.Vertex{ID: l, Metadata: map[string]interface{}{"role": roleLeaf}})
	}
	for _, s := range spines {
		t.g.AddVertex(&lvgraph.Vertex{ID: s, Metadata: map[string]interface{}{"role": roleSpine}})
	}
	for _, l := range leaves {
		for _, s := range spines {
			t.g.AddEdge(l, s, 1)
		}
	}
	t.leaves = append([]string(nil), leaves...)
	t.spines = append([]string(nil), spines...)
	sort.Strings(t.leaves)
	sort.Strings(t.spines)
	return t
}

// RemoveUplink models a link failure between a leaf and a spine.
func (t *Topology) RemoveUplink(leaf, spine string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.g.RemoveEdge(leaf, spine)
}

// RestoreUplink re-adds a previously removed uplink.
func (t *Topology) RestoreUplink(leaf, spine string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.g.AddEdge(leaf, spine, 1)
}

// SpinesBetween returns, in stable sorted order, every spine with a live
// uplink to both leafA and leafB.
func (t *Topology) SpinesBetween(leafA, leafB string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a := t.g.Neighbors(leafA)
	bSet := make(map[string]bool)
	for _, v := range t.g.Neighbors(leafB) {
		bSet[v.ID] = true
	}
	var out []string
	for _, v := range a {
		if bSet[v.ID] {
			out = append(out, v.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Leaves returns the sorted list of leaf switch ids.
func (t *Topology) Leaves() []string { return append([]string(nil), t.leaves...) }

// Paths enumerates one PathKey per live spine for every unordered leaf
// pair (spec §4.9: "2 * |ordered leaf pairs| paths, one per spine"). A
// pair degraded to a single live spine yields a single PathKey; a pair
// with no live spine yields none.
func (t *Topology) Paths() []model.PathKey {
	leaves := t.Leaves()
	var out []model.PathKey
	for i := 0; i < len(leaves); i++ {
		for j := i + 1; j < len(leaves); j++ {
			a, b := leaves[i], leaves[j]
			spines := t.SpinesBetween(a, b)
			for _, s := range spines {
				out = append(out, model.PathKey{SrcLeaf: a, Spine: s, DstLeaf: b})
			}
		}
	}
	return out
}
