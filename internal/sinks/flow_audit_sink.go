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

// Package sinks provides a buffered, append-only JSONL audit trail for flow
// installs. Its shape (single file, buffered writer, periodic time-based
// flush, best-effort re-encode on write error) is the same append-then-flush
// pattern as the original batch sinks this package replaced; it now records
// every path a flow was routed onto instead of a generic numeric batch.
package sinks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"fabricctl/internal/model"
)

// FlowEvent is one installed-flow record: which 5-tuple, which leaves/spine
// it was pinned to, and when.
type FlowEvent struct {
	InstalledAt time.Time `json:"installed_at"`
	SrcIP       string    `json:"src_ip"`
	DstIP       string    `json:"dst_ip"`
	Proto       uint8     `json:"proto"`
	SrcPort     uint16    `json:"src_port"`
	DstPort     uint16    `json:"dst_port"`
	SrcLeaf     string    `json:"src_leaf"`
	Spine       string    `json:"spine,omitempty"`
	DstLeaf     string    `json:"dst_leaf"`
}

// FlowAuditSink is a buffered JSONL sink for FlowEvents, optionally mirrored
// to a model.Persister (e.g. the Kafka adapter) so the flow-install audit
// trail can be shipped off-box the same way the health checker's blacklist
// commits are. Safe for concurrent use and optimized for append-only
// workloads.
type FlowAuditSink struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	path      string
	persister model.Persister

	lastFlush time.Time
}

// NewFlowAuditSink opens (or creates) the file at path in append mode with a
// buffered writer. persister may be nil to skip the mirrored commit. Call
// Close() when done.
func NewFlowAuditSink(path string, persister model.Persister) (*FlowAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FlowAuditSink{f: f, w: bufio.NewWriterSize(f, 1<<20 /*1MiB*/), path: path, persister: persister, lastFlush: time.Now()}, nil
}

// Record appends one flow-install event as a JSON line and, if a persister
// is configured, mirrors it as a single-count commit keyed by the flow's
// 5-tuple.
func (s *FlowAuditSink) Record(ev FlowEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	if err := enc.Encode(&ev); err != nil {
		// best effort: flush and retry once
		_ = s.w.Flush()
		_ = enc.Encode(&ev)
	}
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
	if s.persister != nil {
		key := fmt.Sprintf("flow:%s:%d:%s:%d:%d", ev.SrcIP, ev.Proto, ev.DstIP, ev.SrcPort, ev.DstPort)
		_ = s.persister.CommitBatch([]model.Commit{{Key: key, Vector: 1}})
	}
}

// Flush forces buffered data to be written to disk.
func (s *FlowAuditSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *FlowAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAllFlowEvents reads the entire audit log file as a slice. Intended for
// post-incident replay, not the hot path.
func ReadAllFlowEvents(path string) ([]FlowEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []FlowEvent
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)
	for scanner.Scan() {
		var ev FlowEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out, scanner.Err()
}
