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

// Package forecast implements the hourly traffic forecaster (spec §4.4):
// an at-most-once-per-hour cache in front of a pluggable sequence
// predictor, with retrain-on-two-failures and an atomically swappable
// model reference so retraining never blocks the capacity loop.
package forecast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/model"
	"fabricctl/internal/telemetry/metricsclient"
	"fabricctl/internal/telemetry/obs"
)

// Predictor evaluates a sequence model over recent hourly history and
// returns the next hour's predicted request count.
type Predictor interface {
	Predict(history []float64) (float64, error)
}

// MovingAveragePredictor is a small, dependency-free baseline predictor:
// it predicts the mean of the trailing window. No time-series/ML library
// appears anywhere in the reference pack, so this stays on the standard
// library by design (see DESIGN.md).
type MovingAveragePredictor struct{ Window int }

func (p MovingAveragePredictor) Predict(history []float64) (float64, error) {
	w := p.Window
	if w <= 0 || w > len(history) {
		w = len(history)
	}
	if w == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range history[len(history)-w:] {
		sum += v
	}
	return sum / float64(w), nil
}

const historyWindowHours = 24

// Forecaster serves the capacity controller's Forecast cache.
type Forecaster struct {
	metrics metricsclient.Client
	journal *alert.Journal

	model atomic.Value // Predictor

	mu                sync.Mutex
	cached            model.Forecast
	haveCached        bool
	consecutiveFailed int
	retraining        atomic.Bool
}

// New constructs a Forecaster with an initial predictor.
func New(metrics metricsclient.Client, journal *alert.Journal, initial Predictor) *Forecaster {
	f := &Forecaster{metrics: metrics, journal: journal}
	f.model.Store(initial)
	return f
}

// Get returns the current Forecast, evaluating a fresh one if the cache is
// stale. Contract: at most one fresh evaluation per natural clock hour.
func (f *Forecaster) Get(ctx context.Context) model.Forecast {
	now := time.Now()
	f.mu.Lock()
	if f.haveCached && f.cached.Valid(now) {
		cur := f.cached
		f.mu.Unlock()
		return cur
	}
	f.mu.Unlock()

	history, err := f.metrics.HourlyHistory(ctx, historyWindowHours)
	if err != nil {
		return f.handleFailure(err)
	}
	predictor := f.model.Load().(Predictor)
	value, err := predictor.Predict(history)
	if err != nil {
		return f.handleFailure(err)
	}

	fc := model.Forecast{Value: value, ValidUntil: nextHourBoundary(now)}
	f.mu.Lock()
	f.cached = fc
	f.haveCached = true
	f.consecutiveFailed = 0
	f.mu.Unlock()
	obs.ForecastValue.Set(value)
	return fc
}

func (f *Forecaster) handleFailure(err error) model.Forecast {
	obs.ForecastFailures.Inc()
	f.mu.Lock()
	f.consecutiveFailed++
	n := f.consecutiveFailed
	prev := f.cached
	haveCached := f.haveCached
	f.mu.Unlock()

	if f.journal != nil {
		f.journal.Raise(model.SeverityWarning, "forecast", "evaluation failed",
			err.Error(), nil)
	}
	if n >= 2 {
		f.requestRetrain()
	}
	if haveCached {
		return prev
	}
	return model.Forecast{}
}

// requestRetrain launches an asynchronous retrain and swaps the model
// reference atomically on completion; it never blocks the caller.
func (f *Forecaster) requestRetrain() {
	if !f.retraining.CompareAndSwap(false, true) {
		return // a retrain is already in flight
	}
	go func() {
		defer f.retraining.Store(false)
		// Retraining here simply widens the moving-average window as a
		// stand-in for a real model refit; the point demonstrated is the
		// atomic model-reference swap, not the retrain algorithm itself.
		f.model.Store(MovingAveragePredictor{Window: historyWindowHours})
		f.mu.Lock()
		f.consecutiveFailed = 0
		f.mu.Unlock()
	}()
}

func nextHourBoundary(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}
