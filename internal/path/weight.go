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

package path

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/fabric"
	"fabricctl/internal/model"
	"fabricctl/internal/telemetry/obs"
)

// epsilon keeps the raw-weight formula r_i = 1/(x_i+epsilon) finite for an
// idle path observed at zero bytes (spec §4.10).
const epsilon = 1.0

// sidecarMaxAttempts bounds the sidecar push retry, per spec §5's "timeout
// maps to a retry with exponential backoff up to three attempts".
const sidecarMaxAttempts = 3

// utc8 is the fixed offset the published document's timestamp is rendered
// in, per spec §6's "timestamp_utc8" field name.
var utc8 = time.FixedZone("UTC+8", 8*3600)

// Pair groups the one or two directed paths between an unordered leaf pair.
type Pair struct {
	LeafA, LeafB string
	Paths        []model.PathKey
}

// PairsFromTopology derives the pairing structure weight derivation needs
// directly from the live fabric, so a link failure that drops a pair to a
// single surviving spine is reflected on the next publish.
func PairsFromTopology(top *fabric.Topology) []Pair {
	leaves := top.Leaves()
	var out []Pair
	for i := 0; i < len(leaves); i++ {
		for j := i + 1; j < len(leaves); j++ {
			a, b := leaves[i], leaves[j]
			spines := top.SpinesBetween(a, b)
			if len(spines) == 0 {
				continue
			}
			var paths []model.PathKey
			for _, s := range spines {
				paths = append(paths, model.PathKey{SrcLeaf: a, Spine: s, DstLeaf: b})
			}
			out = append(out, Pair{LeafA: a, LeafB: b, Paths: paths})
		}
	}
	return out
}

// BandwidthCost carries the byte figure a selection ratio was derived from,
// alongside which regime produced it ("realtime", "prediction", or
// "hybrid" — see model.PredictionMode).
type BandwidthCost struct {
	Bytes     int64   `json:"bytes"`
	Megabytes float64 `json:"megabytes"`
	Source    string  `json:"source"`
}

// PathDetail is one spine choice's published selection ratio.
type PathDetail struct {
	ViaSpine       string        `json:"via_spine"`
	SelectionRatio float64       `json:"selection_ratio"`
	BandwidthCost  BandwidthCost `json:"bandwidth_cost"`
}

// PathDetails groups a leaf pair's one or two spine choices. Path1 is nil
// when only a single spine currently connects the pair (a link failure
// dropped the redundant path; see spec §4.9).
type PathDetails struct {
	Path0 PathDetail  `json:"path_0"`
	Path1 *PathDetail `json:"path_1,omitempty"`
}

// PairWeights is the per-leaf-pair entry of path_selection_weights.
type PairWeights struct {
	PathDetails PathDetails `json:"path_details"`
}

// Metadata is the document-level header published alongside the weights.
type Metadata struct {
	TimestampUTC8     string `json:"timestamp_utc8"`
	Iteration         int64  `json:"iteration"`
	LoadBalancingMode string `json:"load_balancing_mode"`
	UsingPredictions  bool   `json:"using_predictions"`
	Description       string `json:"description"`
}

// Document is the atomically-published weight document, matching spec §6's
// path-selection document contract.
type Document struct {
	Metadata             Metadata               `json:"metadata"`
	PathSelectionWeights map[string]PairWeights `json:"path_selection_weights"`
}

// SidecarTransport ships the published document to the SDN controller
// host. Implementations should be a thin copy (e.g. scp/rsync-equivalent
// or an HTTP PUT); retries are handled by Publisher.
type SidecarTransport interface {
	Push(doc Document) error
}

// DeriveOptions carries the document metadata fields that aren't derived
// from the topology or the per-path estimates themselves.
type DeriveOptions struct {
	Iteration         int64
	LoadBalancingMode string
	UsingPredictions  bool
	Description       string
}

// Derive computes raw weights for every pair from per-path predictions
// (realtime-observed or model-predicted bytes, per mode), normalizes each
// pair to sum to 1, and returns the resulting Document.
func Derive(pairs []Pair, estimate func(model.PathKey) model.PathPrediction, now time.Time, opts DeriveOptions) Document {
	weights := make(map[string]PairWeights, len(pairs))
	for _, pr := range pairs {
		key := pr.LeafA + "->" + pr.LeafB
		switch len(pr.Paths) {
		case 1:
			p0 := estimate(pr.Paths[0])
			weights[key] = PairWeights{PathDetails: PathDetails{
				Path0: detail(pr.Paths[0], 1, p0),
			}}
		default:
			p0 := estimate(pr.Paths[0])
			p1 := estimate(pr.Paths[1])
			r0 := 1 / (p0.Predicted + epsilon)
			r1 := 1 / (p1.Predicted + epsilon)
			sum := r0 + r1
			d0 := detail(pr.Paths[0], r0/sum, p0)
			d1 := detail(pr.Paths[1], r1/sum, p1)
			weights[key] = PairWeights{PathDetails: PathDetails{Path0: d0, Path1: &d1}}
		}
	}
	return Document{
		Metadata: Metadata{
			TimestampUTC8:     now.In(utc8).Format(time.RFC3339),
			Iteration:         opts.Iteration,
			LoadBalancingMode: opts.LoadBalancingMode,
			UsingPredictions:  opts.UsingPredictions,
			Description:       opts.Description,
		},
		PathSelectionWeights: weights,
	}
}

func detail(p model.PathKey, ratio float64, pred model.PathPrediction) PathDetail {
	bytes := int64(pred.Predicted)
	return PathDetail{
		ViaSpine:       p.Spine,
		SelectionRatio: ratio,
		BandwidthCost: BandwidthCost{
			Bytes:     bytes,
			Megabytes: pred.Predicted / (1 << 20),
			Source:    string(pred.Mode),
		},
	}
}

// Stats are the collection/publication counters exposed at GET /stats,
// matching spec §6's central controller HTTP API contract exactly.
type Stats struct {
	TotalPushes      int64     `json:"total_pushes"`
	SuccessfulPushes int64     `json:"successful_pushes"`
	LastPushTime     time.Time `json:"last_push_time"`
	LastCollection   time.Time `json:"last_collection"`
}

// Publisher owns the published weight Document: atomic local write, best-
// effort sidecar push, and the HTTP surface for reads/manual resync.
type Publisher struct {
	localPath string
	sidecar   SidecarTransport
	journal   *alert.Journal
	resync    func()

	mu      sync.RWMutex
	current Document
	stats   Stats
}

// NewPublisher constructs a Publisher. resync is invoked by the manual
// resync endpoint to request an out-of-band derive+publish cycle from the
// owning loop.
func NewPublisher(localPath string, sidecar SidecarTransport, journal *alert.Journal, resync func()) *Publisher {
	return &Publisher{localPath: localPath, sidecar: sidecar, journal: journal, resync: resync}
}

// SetResync wires the callback /force_sync invokes to trigger an
// out-of-band derive+publish cycle, for callers that construct
// the owning loop after the Publisher itself.
func (p *Publisher) SetResync(resync func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resync = resync
}

// Publish atomically writes doc to local storage and pushes it to the
// sidecar transport with bounded retry; a sidecar failure after retries is
// logged as a warning but does not fail the call (spec treats the local
// document as authoritative). collectedAt is the instant the underlying
// telemetry collection cycle finished, recorded alongside the push time
// for the /stats surface.
func (p *Publisher) Publish(doc Document, collectedAt time.Time) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := AtomicWriteFile(p.localPath, data); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = doc
	p.stats.TotalPushes++
	p.stats.LastPushTime = time.Now()
	p.stats.LastCollection = collectedAt
	p.mu.Unlock()
	obs.WeightPublishTotal.Inc()

	if p.sidecar == nil {
		p.mu.Lock()
		p.stats.SuccessfulPushes++
		p.mu.Unlock()
		return nil
	}
	var pushErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= sidecarMaxAttempts; attempt++ {
		if pushErr = p.sidecar.Push(doc); pushErr == nil {
			p.mu.Lock()
			p.stats.SuccessfulPushes++
			p.mu.Unlock()
			return nil
		}
		if attempt < sidecarMaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if p.journal != nil {
		p.journal.Raise(model.SeverityWarning, "path", "sidecar push failed",
			pushErr.Error(), nil)
	}
	return nil
}

// RegisterRoutes wires the current_weights/stats/force_sync HTTP surface
// spec §6 assigns to the central controller.
func (p *Publisher) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/current_weights", p.handleCurrentWeights)
	mux.HandleFunc("/stats", p.handleStats)
	mux.HandleFunc("/force_sync", p.handleForceSync)
}

func (p *Publisher) handleCurrentWeights(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	doc := p.current
	p.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (p *Publisher) handleStats(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	st := p.stats
	p.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// forceSyncResponse is the POST /force_sync response shape.
type forceSyncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (p *Publisher) handleForceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	p.mu.RLock()
	resync := p.resync
	p.mu.RUnlock()
	if resync == nil {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(forceSyncResponse{Success: false, Message: "resync not configured"})
		return
	}
	go resync()
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(forceSyncResponse{Success: true, Message: "resync requested"})
}

// AtomicWriteFile writes data to a temp file beside path and renames it
// into place, so readers never observe a partial write; shared by
// Publisher.Publish and any SidecarTransport that ships to a second local
// mount.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".weights-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadDocument re-reads a published weight document from disk, for the
// SDN-side process that only consumes what the central controller
// publishes (spec §2: "the SDN controller hosts a thin application that
// reads the path-selection document").
func ReadDocument(path string) (Document, error) {
	var doc Document
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}
