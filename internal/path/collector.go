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

// Package path implements the path telemetry pipeline: a collector that
// polls the SDN controller's port-statistics API and turns raw uplink/
// downlink byte counters into per-path windowed samples (spec §4.8), a
// per-path predictor (§4.9), and weight derivation/publication (§4.10).
// The collector's ingest-then-periodic-window shape mirrors the teacher's
// tfd.SService: a single goroutine accumulating counter deltas and
// flushing them on a fixed tick rather than per-sample.
package path

import (
	"context"
	"sync"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/fabric"
	"fabricctl/internal/model"
)

// window is the collection interval mandated by spec §4.8.
const window = 60 * time.Second

// PortStatsClient queries the SDN controller's port-statistics API for the
// raw (monotonic, ever-increasing) byte counters on a leaf's uplink to a
// given spine.
type PortStatsClient interface {
	// TxBytes is the cumulative bytes transmitted on leaf's uplink toward spine.
	TxBytes(ctx context.Context, leaf, spine string) (int64, error)
	// RxBytes is the cumulative bytes received on leaf's downlink from spine.
	RxBytes(ctx context.Context, leaf, spine string) (int64, error)
}

// Sink receives a finalized windowed sample for one path.
type Sink interface {
	OnPathSample(model.PathSample)
}

type counterState struct {
	have   bool
	lastTx int64
	lastRx int64
}

// Collector implements the §4.8 polling and windowing logic.
type Collector struct {
	client  PortStatsClient
	top     *fabric.Topology
	sink    Sink
	journal *alert.Journal

	mu    sync.Mutex
	state map[model.PathKey]*counterState
}

// NewCollector constructs a Collector over the given topology.
func NewCollector(client PortStatsClient, top *fabric.Topology, sink Sink, journal *alert.Journal) *Collector {
	return &Collector{
		client:  client,
		top:     top,
		sink:    sink,
		journal: journal,
		state:   make(map[model.PathKey]*counterState),
	}
}

// Poll runs one 60-second collection window over every path currently
// enumerable from the topology.
func (c *Collector) Poll(ctx context.Context, now time.Time) {
	for _, p := range c.top.Paths() {
		c.pollPath(ctx, p, now)
	}
}

func (c *Collector) pollPath(ctx context.Context, p model.PathKey, now time.Time) {
	tx, errTx := c.client.TxBytes(ctx, p.SrcLeaf, p.Spine)
	rx, errRx := c.client.RxBytes(ctx, p.DstLeaf, p.Spine)
	if errTx != nil || errRx != nil {
		if c.journal != nil {
			c.journal.Raise(model.SeverityWarning, "path", "port stats unavailable",
				pathLabel(p), nil)
		}
		return
	}

	c.mu.Lock()
	st, ok := c.state[p]
	if !ok {
		st = &counterState{}
		c.state[p] = st
	}
	if !st.have {
		st.lastTx, st.lastRx, st.have = tx, rx, true
		c.mu.Unlock()
		return
	}
	txDelta := tx - st.lastTx
	rxDelta := rx - st.lastRx
	st.lastTx, st.lastRx = tx, rx
	c.mu.Unlock()

	reset := false
	if txDelta < 0 {
		txDelta = 0
		reset = true
	}
	if rxDelta < 0 {
		rxDelta = 0
		reset = true
	}
	if reset && c.journal != nil {
		c.journal.Raise(model.SeverityWarning, "path", "counter reset detected",
			pathLabel(p), nil)
	}

	bytes := txDelta
	if rxDelta > bytes {
		bytes = rxDelta
	}
	if c.sink != nil {
		c.sink.OnPathSample(model.PathSample{Path: p, Bytes: bytes, WindowEnd: now})
	}
}

// Run drives Poll on the fixed 60-second window until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	t := time.NewTicker(window)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			c.Poll(ctx, now)
		case <-ctx.Done():
			return
		}
	}
}

func pathLabel(p model.PathKey) string {
	return p.SrcLeaf + "->" + p.Spine + "->" + p.DstLeaf
}
