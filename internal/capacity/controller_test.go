package capacity

import (
	"testing"
	"time"

	"fabricctl/internal/model"
)

func testPool() []model.Backend {
	return []model.Backend{
		{ID: "b1", Tier: model.Tier1},
		{ID: "b2", Tier: model.Tier2},
		{ID: "b3", Tier: model.Tier3},
	}
}

// promote backdates a STARTING backend past the stabilisation period, feeds
// it a fresh sample and ticks, so the backend reaches ON.
func promote(c *Controller, id string, s model.LiveSample, fc model.Forecast) {
	mb := c.backends[id]
	mb.mu.Lock()
	mb.state.EnteredAt = time.Now().Add(-stabilisationPeriod)
	mb.mu.Unlock()
	c.IngestSample(id, s)
	c.Tick(fc)
}

func TestController_ProactiveBringsTargetTierOnline(t *testing.T) {
	c := New(testPool(), model.DefaultLadder(), nil, nil)
	c.Tick(model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})

	st := c.State()
	if st["b1"].Life != model.StateStarting {
		t.Fatalf("expected b1 STARTING, got %s", st["b1"].Life)
	}
	if st["b2"].Life != model.StateOff || st["b3"].Life != model.StateOff {
		t.Fatalf("expected b2/b3 to remain OFF, got %s / %s", st["b2"].Life, st["b3"].Life)
	}
}

func TestController_StartingToOnRequiresStabilisationAndFreshSample(t *testing.T) {
	c := New(testPool(), model.DefaultLadder(), nil, nil)
	c.Tick(model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})

	// Fresh sample alone, before the stabilisation period elapses, must not
	// promote to ON (Tick gates on both conditions; IngestSample only
	// records the "first fresh sample" half).
	c.IngestSample("b1", model.LiveSample{Fresh: true, CPUPercent: 5, MemoryPercent: 5})
	st := c.State()
	if st["b1"].Life != model.StateStarting {
		t.Fatalf("expected b1 to stay STARTING before stabilisation elapses, got %s", st["b1"].Life)
	}
}

func TestController_DrainWaitsForTargetTierOn(t *testing.T) {
	pool := testPool()
	c := New(pool, model.DefaultLadder(), nil, nil)
	c.Tick(model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})
	c.IngestSample("b1", model.LiveSample{Fresh: true, CPUPercent: 5, MemoryPercent: 5})

	// Force a downgrade by manufacturing a higher forecast won't drain b1
	// (it's tier1, the floor); instead simulate tier change by manually
	// transitioning via Tick after shrinking the target is not directly
	// expressible for tier1. Exercise DRAINING path on an ON backend whose
	// tier no longer matches target using tier2 instead.
	c2 := New(pool, model.DefaultLadder(), nil, nil)
	c2.Tick(model.Forecast{Value: 200_000, ValidUntil: time.Now().Add(time.Hour)})
	promote(c2, "b2", model.LiveSample{Fresh: true, CPUPercent: 5, MemoryPercent: 5},
		model.Forecast{Value: 200_000, ValidUntil: time.Now().Add(time.Hour)})
	if st := c2.State()["b2"]; st.Life != model.StateOn {
		t.Fatalf("expected b2 ON, got %s", st.Life)
	}

	// The downgrade's target tier (tier1, b1) hasn't reached ON yet, so the
	// tie-break rule must hold b2 ON rather than draining it immediately.
	c2.Tick(model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})
	if st := c2.State()["b1"]; st.Life != model.StateStarting {
		t.Fatalf("expected b1 STARTING after downgrade, got %s", st.Life)
	}
	if st := c2.State()["b2"]; st.Life != model.StateOn {
		t.Fatalf("expected b2 to remain ON until b1 reaches ON, got %s", st.Life)
	}

	// Once b1 reaches ON, the next tick may finally drain the out-of-tier b2.
	promote(c2, "b1", model.LiveSample{Fresh: true, CPUPercent: 5, MemoryPercent: 5},
		model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})
	c2.Tick(model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})
	if st := c2.State()["b2"]; st.Life != model.StateDraining {
		t.Fatalf("expected b2 DRAINING after b1 reached ON, got %s", st.Life)
	}
}

func TestController_ReactiveOverloadElevatesTier(t *testing.T) {
	c := New(testPool(), model.DefaultLadder(), nil, nil)
	c.Tick(model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})
	promote(c, "b1", model.LiveSample{Fresh: true, CPUPercent: 95, MemoryPercent: 95},
		model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})

	c.Tick(model.Forecast{Value: 10, ValidUntil: time.Now().Add(time.Hour)})
	st := c.State()
	if st["b2"].Life != model.StateStarting {
		t.Fatalf("expected overload to elevate target tier and start b2, got %s", st["b2"].Life)
	}
}
