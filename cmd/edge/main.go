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

// Package main is the entry point for the edge controller: it re-reads
// the status document replica on a fixed tick, runs DWRS over the
// active/healthy/fresh backend set, and commits the winner via a single
// NAT rule (spec §4.2-4.3).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fabricctl/internal/alert"
	"fabricctl/internal/config"
	"fabricctl/internal/edge"
	"fabricctl/internal/telemetry/metricsclient"
	"fabricctl/internal/telemetry/obs"
)

func main() {
	fs := flag.NewFlagSet("edge", flag.ExitOnError)
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
	nat := &edge.LoggingNAT{}
	loop := edge.NewLoop(cfg.Edge.StatusPath, metricsclient.LoggingClient{}, nat, journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx, cfg.Edge.TickInterval)

	fmt.Println("edge controller running, reconciling on", cfg.Edge.TickInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	fmt.Println("\nshutting down edge controller...")
	cancel()
}
