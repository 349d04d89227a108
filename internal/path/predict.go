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
	"math"
	"sync"
	"time"

	"fabricctl/internal/alert"
	"fabricctl/internal/model"
	"fabricctl/internal/telemetry/obs"
)

// coldStartWindows is the number of windows of history required before a
// path leaves realtime mode (spec §4.9).
const coldStartWindows = 10

// historyCap bounds how many windows of history a path retains; only the
// smoothing/volatility computation needs a trailing slice, not unbounded
// growth.
const historyCap = 60

// predictionBudget bounds how long a single prediction computation may
// run; exceeding it falls back to the last observed value, same as a
// predictor error (spec §4.9 "prediction returns in bounded time").
const predictionBudget = 5 * time.Millisecond

// hybridVolatilityThreshold: when the trailing window's coefficient of
// variation exceeds this, the predictor damps toward observed bytes even
// if hybrid mode wasn't explicitly configured, since a pure prediction is
// unreliable on a volatile path.
const hybridVolatilityThreshold = 0.5

type pathHistory struct {
	mu             sync.Mutex
	window         []float64
	lastPrediction float64
	havePrediction bool
}

// Predictor maintains one small time-series model per path.
type Predictor struct {
	journal      *alert.Journal
	preferHybrid bool

	mu        sync.Mutex
	histories map[model.PathKey]*pathHistory
}

// NewPredictor constructs a Predictor. preferHybrid mirrors the configuration
// switch in spec §4.9 that forces the 30% prediction / 70% observed blend
// once a path has left cold start.
func NewPredictor(journal *alert.Journal, preferHybrid bool) *Predictor {
	return &Predictor{journal: journal, preferHybrid: preferHybrid, histories: make(map[model.PathKey]*pathHistory)}
}

// Observe folds a new windowed sample into the path's history, scores the
// previous prediction against it for the accuracy metric, and returns the
// prediction for the path's next window.
func (p *Predictor) Observe(sample model.PathSample) model.PathPrediction {
	h := p.historyFor(sample.Path)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.havePrediction {
		p.recordAccuracy(sample.Path, h.lastPrediction, float64(sample.Bytes))
	}

	h.window = append(h.window, float64(sample.Bytes))
	if len(h.window) > historyCap {
		h.window = h.window[len(h.window)-historyCap:]
	}

	pred := p.predictLocked(sample.Path, h.window)
	h.lastPrediction = pred.Predicted
	h.havePrediction = true
	return pred
}

func (p *Predictor) historyFor(key model.PathKey) *pathHistory {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histories[key]
	if !ok {
		h = &pathHistory{}
		p.histories[key] = h
	}
	return h
}

func (p *Predictor) predictLocked(key model.PathKey, window []float64) model.PathPrediction {
	start := time.Now()
	n := len(window)
	last := window[n-1]

	if n < coldStartWindows {
		return model.PathPrediction{Path: key, Predicted: last, Mode: model.ModeRealtime}
	}

	smoothed := ewma(window)
	cv := coefficientOfVariation(window)
	mode := model.ModePrediction
	predicted := smoothed
	if p.preferHybrid || cv > hybridVolatilityThreshold {
		predicted = 0.3*smoothed + 0.7*last
		mode = model.ModeHybrid
	}

	if time.Since(start) > predictionBudget {
		if p.journal != nil {
			p.journal.Raise(model.SeverityWarning, "path", "prediction exceeded time budget",
				pathLabel(key), nil)
		}
		return model.PathPrediction{Path: key, Predicted: last, Mode: model.ModeRealtime}
	}
	if predicted < 0 {
		predicted = 0
	}
	return model.PathPrediction{Path: key, Predicted: predicted, Mode: mode}
}

func (p *Predictor) recordAccuracy(key model.PathKey, predicted, actual float64) {
	errAbs := math.Abs(predicted - actual)
	obs.PathPredictionError.WithLabelValues(pathLabel(key)).Observe(errAbs)

	accuracy := 1.0
	if actual != 0 {
		accuracy = 1 - errAbs/math.Max(actual, 1)
		if accuracy < 0 {
			accuracy = 0
		}
	} else if predicted != 0 {
		accuracy = 0
	}
	obs.PathAccuracy.WithLabelValues(pathLabel(key)).Set(accuracy)
}

// ewma applies a standard exponentially weighted moving average over the
// full retained window, the "smoothing transform" called for in spec §4.9.
func ewma(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	alpha := 2.0 / float64(len(xs)+1)
	avg := xs[0]
	for _, v := range xs[1:] {
		avg = alpha*v + (1-alpha)*avg
	}
	return avg
}

// coefficientOfVariation is the "volatility channel": stddev / mean over
// the retained window.
func coefficientOfVariation(xs []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean := sum / n
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range xs {
		d := v - mean
		variance += d * d
	}
	variance /= n
	return math.Sqrt(variance) / mean
}
