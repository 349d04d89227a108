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

// Package main is the entry point for the thin SDN-host application: it
// reads the path-selection document the central controller publishes,
// loads it into the smoothed-WRR flow selector (spec §4.11), and installs
// symmetric flow rules per new flow. It owns no telemetry collection or
// weight derivation of its own — that lives on cmd/central (spec §2).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/config"
	"fabricctl/internal/fabric"
	"fabricctl/internal/model"
	"fabricctl/internal/path"
	"fabricctl/internal/persistence"
	"fabricctl/internal/sdn"
	"fabricctl/internal/sinks"
	"fabricctl/internal/telemetry/obs"
)

// auditingInstaller logs each flow install and appends it to the audit
// sink; the hardware/controller call itself stays a print stand-in, same as
// the rest of this binary's demo wiring.
type auditingInstaller struct {
	audit *sinks.FlowAuditSink
}

func (a auditingInstaller) InstallCrossLeaf(ctx context.Context, srcLeaf, spine, dstLeaf string, flow sdn.FlowKey) error {
	fmt.Printf("[sdn-demo] install cross-leaf %s -> %s -> %s for %+v\n", srcLeaf, spine, dstLeaf, flow)
	if a.audit != nil {
		a.audit.Record(sinks.FlowEvent{
			InstalledAt: time.Now(), SrcIP: flow.SrcIP, DstIP: flow.DstIP, Proto: flow.Proto,
			SrcPort: flow.SrcPort, DstPort: flow.DstPort, SrcLeaf: srcLeaf, Spine: spine, DstLeaf: dstLeaf,
		})
	}
	return nil
}

func (a auditingInstaller) InstallSameLeaf(ctx context.Context, leaf string, flow sdn.FlowKey) error {
	fmt.Printf("[sdn-demo] install same-leaf %s for %+v\n", leaf, flow)
	if a.audit != nil {
		a.audit.Record(sinks.FlowEvent{
			InstalledAt: time.Now(), SrcIP: flow.SrcIP, DstIP: flow.DstIP, Proto: flow.Proto,
			SrcPort: flow.SrcPort, DstPort: flow.DstPort, SrcLeaf: leaf, DstLeaf: leaf,
		})
	}
	return nil
}

type staticLocator map[string]string

func (l staticLocator) LeafFor(ip string) (string, bool) {
	leaf, ok := l[ip]
	return leaf, ok
}

func main() {
	fs := flag.NewFlagSet("sdnapp", flag.ExitOnError)
	f := config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load(f)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.ServeMetrics(cfg.MetricsAddr)
	journal := alert.New(cfg.AlertJournalCap, nil)

	top := fabric.NewSpineLeaf(cfg.Fabric.Leaves, cfg.Fabric.Spines)
	pairs := path.PairsFromTopology(top)

	auditPersister, err := persistence.BuildPersister(cfg.Persistence.Backend, persistence.DemoOptions{
		RedisAddr:  cfg.Persistence.RedisAddr,
		KafkaTopic: cfg.Persistence.KafkaTopic,
	})
	if err != nil {
		log.Fatalf("build flow-audit persister: %v", err)
	}

	var audit *sinks.FlowAuditSink
	if cfg.Path.FlowAuditPath != "" {
		audit, err = sinks.NewFlowAuditSink(cfg.Path.FlowAuditPath, auditPersister)
		if err != nil {
			log.Printf("flow audit sink disabled: %v", err)
		} else {
			defer audit.Close()
		}
	}
	selector := sdn.New(staticLocator(cfg.Fabric.Hosts), auditingInstaller{audit: audit}, journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runWeightReadLoop(ctx, cfg.Path.RemoteWeightDocPath, pairs, selector, journal)
	go runEvictionLoop(ctx, selector)

	mux := http.NewServeMux()
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		fmt.Printf("sdn app listening on %s\n", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", cfg.HTTPAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	fmt.Println("\nshutting down sdn app...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// runWeightReadLoop re-reads the published path-selection document on a
// fixed interval and reloads it into the selector. A missing or stale
// document is logged and the selector keeps its last-known-good weights,
// mirroring the edge controller's tolerance for an unreachable replica.
func runWeightReadLoop(ctx context.Context, docPath string, pairs []path.Pair, selector *sdn.Selector, journal *alert.Journal) {
	readOnce := func() {
		doc, err := path.ReadDocument(docPath)
		if err != nil {
			if journal != nil {
				journal.Raise(model.SeverityWarning, "sdn", "path-selection document unreadable",
					"retaining last-loaded weights: "+err.Error(), nil)
			}
			return
		}
		selector.LoadWeights(pairs, doc)
	}
	readOnce()
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			readOnce()
		case <-ctx.Done():
			return
		}
	}
}

func runEvictionLoop(ctx context.Context, selector *sdn.Selector) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			selector.EvictIdle(time.Now())
		case <-ctx.Done():
			return
		}
	}
}
