package path

import (
	"testing"

	"fabricctl/internal/model"
)

func TestPredictor_ColdStartUsesRealtimeMode(t *testing.T) {
	p := NewPredictor(nil, false)
	key := model.PathKey{SrcLeaf: "leaf1", Spine: "spine0", DstLeaf: "leaf2"}
	for i := 0; i < coldStartWindows-1; i++ {
		pred := p.Observe(model.PathSample{Path: key, Bytes: 1000})
		if pred.Mode != model.ModeRealtime {
			t.Fatalf("window %d: expected realtime mode, got %s", i, pred.Mode)
		}
		if pred.Predicted != 1000 {
			t.Fatalf("window %d: expected predicted=1000, got %v", i, pred.Predicted)
		}
	}
}

func TestPredictor_ActivatesPredictionAfterTenWindows(t *testing.T) {
	p := NewPredictor(nil, false)
	key := model.PathKey{SrcLeaf: "leaf1", Spine: "spine0", DstLeaf: "leaf2"}
	var last model.PathPrediction
	for i := 0; i < coldStartWindows; i++ {
		last = p.Observe(model.PathSample{Path: key, Bytes: 1000})
	}
	if last.Mode != model.ModePrediction {
		t.Fatalf("expected prediction mode at window %d, got %s", coldStartWindows, last.Mode)
	}
}

func TestPredictor_HybridConfigBlendsPredictionAndObserved(t *testing.T) {
	p := NewPredictor(nil, true)
	key := model.PathKey{SrcLeaf: "leaf1", Spine: "spine0", DstLeaf: "leaf2"}
	var last model.PathPrediction
	for i := 0; i < coldStartWindows; i++ {
		last = p.Observe(model.PathSample{Path: key, Bytes: 1000})
	}
	if last.Mode != model.ModeHybrid {
		t.Fatalf("expected hybrid mode, got %s", last.Mode)
	}
}
