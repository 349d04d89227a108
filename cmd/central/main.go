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

// Package main is the entry point for the central controller: the
// capacity state machine and health checker/blacklist (spec §4.1-4.6), the
// path telemetry collector/predictor/weight publisher (§4.8-4.10), and the
// HTTP API (§6) the downstream SDN app and operators poll. The SDN
// controller host itself runs only cmd/sdnapp, a thin reader of whatever
// this process publishes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/capacity"
	"fabricctl/internal/config"
	"fabricctl/internal/fabric"
	"fabricctl/internal/forecast"
	"fabricctl/internal/health"
	"fabricctl/internal/model"
	"fabricctl/internal/path"
	"fabricctl/internal/persistence"
	"fabricctl/internal/power"
	"fabricctl/internal/statusdoc"
	"fabricctl/internal/telemetry/metricsclient"
	"fabricctl/internal/telemetry/obs"
)

// loggingPortStats is a dependency-free stand-in for the SDN controller's
// port-statistics REST API; it returns a monotonically growing counter so
// the collector has something to diff against.
type loggingPortStats struct{}

func (loggingPortStats) TxBytes(ctx context.Context, leaf, spine string) (int64, error) {
	return time.Now().Unix() * 1000, nil
}

func (loggingPortStats) RxBytes(ctx context.Context, leaf, spine string) (int64, error) {
	return time.Now().Unix() * 1000, nil
}

// estimateStore holds the latest per-path prediction (value and regime)
// for weight derivation to read.
type estimateStore struct {
	mu     sync.Mutex
	values map[model.PathKey]model.PathPrediction
}

func newEstimateStore() *estimateStore {
	return &estimateStore{values: make(map[model.PathKey]model.PathPrediction)}
}

func (s *estimateStore) set(key model.PathKey, p model.PathPrediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = p
}

func (s *estimateStore) get(key model.PathKey) model.PathPrediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// estimateSink feeds every finalized window into the per-path predictor
// and records the resulting prediction for weight derivation to read.
type estimateSink struct {
	predictor *path.Predictor
	store     *estimateStore
}

func (s estimateSink) OnPathSample(sample model.PathSample) {
	s.store.set(sample.Path, s.predictor.Observe(sample))
}

// fileSidecar ships the published document to the SDN controller host by
// an atomic-rename copy into a second path; in production this would be
// backed by the same scp/rsync-equivalent transport the rest of the
// fleet uses, but for this demo wiring the "remote" path is just a second
// local mount cmd/sdnapp reads from.
type fileSidecar struct {
	remotePath string
}

func (f fileSidecar) Push(doc path.Document) error {
	if f.remotePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return path.AtomicWriteFile(f.remotePath, data)
}

func main() {
	fs := flag.NewFlagSet("central", flag.ExitOnError)
	f := config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load(f)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	persister, err := persistence.BuildPersister(cfg.Persistence.Backend, persistence.DemoOptions{
		RedisAddr:  cfg.Persistence.RedisAddr,
		KafkaTopic: cfg.Persistence.KafkaTopic,
	})
	if err != nil {
		log.Fatalf("build persister: %v", err)
	}

	journal := alert.New(cfg.AlertJournalCap, persister)
	obs.ServeMetrics(cfg.MetricsAddr)

	pool := cfg.BackendPool()
	actuator := power.Actuator{HV: power.LoggingHypervisor{}}
	controller := capacity.New(pool, cfg.LadderOrDefault(), journal, actuator)

	prober := health.HTTPProber{
		Path:    cfg.Health.ProbePath,
		Timeout: cfg.Health.ProbeTimeout,
		Get:     httpGet,
	}
	checker := health.New(pool, controller, prober, power.LoggingHypervisor{}, journal, persister)

	metricsClient := metricsclient.LoggingClient{}
	forecaster := forecast.New(metricsClient, journal, forecast.MovingAveragePredictor{Window: 6})

	syncer := statusdoc.New(cfg.StatusDoc.LocalPath, cfg.StatusDoc.RemotePath)

	top := fabric.NewSpineLeaf(cfg.Fabric.Leaves, cfg.Fabric.Spines)
	predictor := path.NewPredictor(journal, cfg.Path.PreferHybrid)
	estimates := newEstimateStore()
	collector := path.NewCollector(loggingPortStats{}, top, estimateSink{predictor: predictor, store: estimates}, journal)
	publisher := path.NewPublisher(cfg.Path.WeightDocPath, fileSidecar{remotePath: cfg.Path.RemoteWeightDocPath}, journal, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pathLoop := newPathLoop(top, estimates, publisher, cfg.Path)
	publisher.SetResync(func() { pathLoop.publishOnce(time.Now()) })

	go runCapacityLoop(ctx, controller, forecaster, syncer, pool)
	go runHealthLoop(ctx, checker, cfg.Health.ProbeInterval)
	go collector.Run(ctx)
	go pathLoop.run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	publisher.RegisterRoutes(mux)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		fmt.Printf("central controller listening on %s\n", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", cfg.HTTPAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nshutting down central controller...")
	cancel()
	persister.PrintFinalMetrics()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	fmt.Println("central controller stopped.")
}

// handleHealth answers GET /health per spec §6's liveness contract.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// runCapacityLoop drives the capacity tick (forecast -> tier target ->
// state transitions) and writes the status document whenever any backend's
// state changed since the last write, plus an at-most-once-per-minute
// heartbeat when nothing changed (spec §4.7).
func runCapacityLoop(ctx context.Context, controller *capacity.Controller, forecaster *forecast.Forecaster, syncer *statusdoc.Syncer, pool []model.Backend) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	var last map[string]model.BackendState
	publish := func() {
		fc := forecaster.Get(ctx)
		controller.Tick(fc)
		st := controller.State()
		doc := statusdoc.Build(pool, st)
		if !reflect.DeepEqual(st, last) || syncer.ShouldHeartbeat() {
			if err := syncer.Write(doc); err != nil {
				log.Printf("status document sync failed: %v", err)
				return
			}
			last = st
		}
	}
	publish()
	for {
		select {
		case <-t.C:
			publish()
		case <-ctx.Done():
			return
		}
	}
}

func runHealthLoop(ctx context.Context, checker *health.Checker, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			checker.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// pathLoop periodically derives and publishes the path-selection document
// from the latest collected/predicted per-path estimates. It also serves
// as the target of the /force_sync handler's out-of-band resync request.
type pathLoop struct {
	top       *fabric.Topology
	estimates *estimateStore
	publisher *path.Publisher
	cfg       config.PathConfig

	mu        sync.Mutex
	iteration int64
}

func newPathLoop(top *fabric.Topology, estimates *estimateStore, publisher *path.Publisher, cfg config.PathConfig) *pathLoop {
	return &pathLoop{top: top, estimates: estimates, publisher: publisher, cfg: cfg}
}

func (l *pathLoop) publishOnce(collectedAt time.Time) {
	pairs := path.PairsFromTopology(l.top)
	l.mu.Lock()
	l.iteration++
	iter := l.iteration
	l.mu.Unlock()
	doc := path.Derive(pairs, l.estimates.get, time.Now(), path.DeriveOptions{
		Iteration:         iter,
		LoadBalancingMode: l.cfg.LoadBalancingMode,
		UsingPredictions:  l.cfg.PreferHybrid,
		Description:       l.cfg.Description,
	})
	if err := l.publisher.Publish(doc, collectedAt); err != nil {
		log.Printf("weight publish failed: %v", err)
	}
}

func (l *pathLoop) run(ctx context.Context) {
	interval := l.cfg.CollectInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.publishOnce(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func httpGet(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
