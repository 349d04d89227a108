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

// Package metricsclient is the control plane's read path into the
// external time-series DB that backs LiveSample and the traffic
// forecaster's hourly history. It follows the same thin-interface shape as
// internal/persistence's Redis/Kafka adapters; the only implementation in
// this package is LoggingClient, which returns synthetic data for
// dependency-free demo runs.
package metricsclient

import (
	"context"
	"fmt"
	"time"

	"fabricctl/internal/model"
)

// Client reads live per-backend samples and hourly request-count history
// from the external metrics DB.
type Client interface {
	LiveSample(ctx context.Context, backendID string) (model.LiveSample, error)
	HourlyHistory(ctx context.Context, hours int) ([]float64, error)
}

// LoggingClient returns synthetic data instead of querying a real
// time-series DB. Not for production use; lets cmd/central and
// cmd/edge run end-to-end without external dependencies.
type LoggingClient struct {
	// StaticSample, when non-nil, is returned verbatim (with Fresh forced
	// true and ObservedAt set to now) for every backend. Tests use this to
	// pin load without wiring a real source.
	StaticSample *model.LiveSample
}

func (c LoggingClient) LiveSample(ctx context.Context, backendID string) (model.LiveSample, error) {
	select {
	case <-ctx.Done():
		return model.LiveSample{}, ctx.Err()
	default:
	}
	if c.StaticSample != nil {
		s := *c.StaticSample
		s.Fresh = true
		s.ObservedAt = time.Now()
		return s, nil
	}
	fmt.Printf("[metrics-demo] LiveSample(%s)\n", backendID)
	return model.LiveSample{CPUPercent: 10, MemoryPercent: 10, Fresh: true, ObservedAt: time.Now()}, nil
}

func (c LoggingClient) HourlyHistory(ctx context.Context, hours int) ([]float64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[metrics-demo] HourlyHistory(%d)\n", hours)
	out := make([]float64, hours)
	for i := range out {
		out[i] = 50_000
	}
	return out, nil
}
