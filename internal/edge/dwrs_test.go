package edge

import (
	"testing"

	"fabricctl/internal/model"
)

func TestSelect_NoCandidates(t *testing.T) {
	_, ok := Select(nil, 1)
	if ok {
		t.Fatalf("expected no candidate")
	}
}

func TestSelect_SingleCandidateAlwaysChosen(t *testing.T) {
	cs := []Candidate{{Backend: model.Backend{ID: "b1"}, Sample: model.LiveSample{CPUPercent: 99, MemoryPercent: 99}}}
	got, ok := Select(cs, 1)
	if !ok || got.ID != "b1" {
		t.Fatalf("expected b1, got %+v ok=%v", got, ok)
	}
}

func TestWeight_ClampsToOneAtFullLoad(t *testing.T) {
	cs := []Candidate{
		{Backend: model.Backend{ID: "a"}, Sample: model.LiveSample{CPUPercent: 100, MemoryPercent: 100}},
		{Backend: model.Backend{ID: "b"}, Sample: model.LiveSample{CPUPercent: 0, MemoryPercent: 0}},
	}
	w := TotalWeight(cs)
	// a contributes weight 1 (L=100 -> w=1), b contributes weight 100 (L=0 -> w=100).
	if w != 101 {
		t.Fatalf("expected total weight 101, got %d", w)
	}
	// x=1 should select the first candidate in stable (id-sorted) order: "a".
	chosen, ok := Select(cs, 1)
	if !ok || chosen.ID != "a" {
		t.Fatalf("expected a at x=1, got %+v", chosen)
	}
	// x=101 should land on "b" since a's running sum is 1.
	chosen, ok = Select(cs, 101)
	if !ok || chosen.ID != "b" {
		t.Fatalf("expected b at x=101, got %+v", chosen)
	}
}

func TestSelect_DeterministicGivenSameInputs(t *testing.T) {
	cs := []Candidate{
		{Backend: model.Backend{ID: "x"}, Sample: model.LiveSample{CPUPercent: 20, MemoryPercent: 30}},
		{Backend: model.Backend{ID: "y"}, Sample: model.LiveSample{CPUPercent: 50, MemoryPercent: 10}},
	}
	a, _ := Select(cs, 5)
	b, _ := Select(cs, 5)
	if a.ID != b.ID {
		t.Fatalf("expected deterministic selection, got %s then %s", a.ID, b.ID)
	}
}
