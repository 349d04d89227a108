package path

import (
	"testing"
	"time"

	"fabricctl/internal/model"
)

func TestDerive_NormalizesPairToSumOne(t *testing.T) {
	pairs := []Pair{{
		LeafA: "leaf1", LeafB: "leaf2",
		Paths: []model.PathKey{
			{SrcLeaf: "leaf1", Spine: "spine0", DstLeaf: "leaf2"},
			{SrcLeaf: "leaf1", Spine: "spine1", DstLeaf: "leaf2"},
		},
	}}
	estimates := map[model.PathKey]float64{
		{SrcLeaf: "leaf1", Spine: "spine0", DstLeaf: "leaf2"}: 1000,
		{SrcLeaf: "leaf1", Spine: "spine1", DstLeaf: "leaf2"}: 3000,
	}
	doc := Derive(pairs, func(k model.PathKey) model.PathPrediction {
		return model.PathPrediction{Path: k, Predicted: estimates[k], Mode: model.ModeRealtime}
	}, time.Unix(0, 0), DeriveOptions{Iteration: 1, LoadBalancingMode: "ecmp", Description: "test"})

	pw, ok := doc.PathSelectionWeights["leaf1->leaf2"]
	if !ok {
		t.Fatalf("expected pair leaf1->leaf2 in document")
	}
	details := pw.PathDetails
	if details.Path1 == nil {
		t.Fatalf("expected both spines present for a two-path pair")
	}
	sum := details.Path0.SelectionRatio + details.Path1.SelectionRatio
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("expected ratios to sum to 1, got %v", sum)
	}
	// The less-loaded path (1000 bytes) should get the larger ratio.
	if details.Path0.SelectionRatio <= details.Path1.SelectionRatio {
		t.Fatalf("expected path_0 (lighter path) > path_1, got path_0=%v path_1=%v",
			details.Path0.SelectionRatio, details.Path1.SelectionRatio)
	}
	if details.Path0.BandwidthCost.Source != string(model.ModeRealtime) {
		t.Fatalf("expected bandwidth_cost.source to carry the prediction mode, got %q",
			details.Path0.BandwidthCost.Source)
	}
}

func TestDerive_SingleSurvivingSpineGetsFullWeight(t *testing.T) {
	pairs := []Pair{{
		LeafA: "leaf1", LeafB: "leaf2",
		Paths: []model.PathKey{{SrcLeaf: "leaf1", Spine: "spine0", DstLeaf: "leaf2"}},
	}}
	doc := Derive(pairs, func(k model.PathKey) model.PathPrediction {
		return model.PathPrediction{Path: k, Predicted: 500, Mode: model.ModePrediction}
	}, time.Unix(0, 0), DeriveOptions{})
	pw := doc.PathSelectionWeights["leaf1->leaf2"]
	if pw.PathDetails.Path0.SelectionRatio != 1 {
		t.Fatalf("expected selection_ratio=1 for single-spine pair, got %v", pw.PathDetails.Path0.SelectionRatio)
	}
	if pw.PathDetails.Path1 != nil {
		t.Fatalf("expected path_1 to be absent for a single-spine pair")
	}
}
