package sdn

import (
	"context"
	"testing"
	"time"

	"fabricctl/internal/model"
	"fabricctl/internal/path"
)

var timeZero = time.Time{}

type staticLocator map[string]string

func (l staticLocator) LeafFor(ip string) (string, bool) {
	leaf, ok := l[ip]
	return leaf, ok
}

type recordingInstaller struct {
	crossLeaf []string
	sameLeaf  []string
}

func (r *recordingInstaller) InstallCrossLeaf(ctx context.Context, srcLeaf, spine, dstLeaf string, flow FlowKey) error {
	r.crossLeaf = append(r.crossLeaf, spine)
	return nil
}

func (r *recordingInstaller) InstallSameLeaf(ctx context.Context, leaf string, flow FlowKey) error {
	r.sameLeaf = append(r.sameLeaf, leaf)
	return nil
}

func testPairs() []path.Pair {
	return []path.Pair{{
		LeafA: "leaf1", LeafB: "leaf2",
		Paths: []model.PathKey{
			{SrcLeaf: "leaf1", Spine: "spine0", DstLeaf: "leaf2"},
			{SrcLeaf: "leaf1", Spine: "spine1", DstLeaf: "leaf2"},
		},
	}}
}

func TestSelector_SameLeafInstallsSingleRule(t *testing.T) {
	locator := staticLocator{"10.0.0.1": "leaf1", "10.0.0.2": "leaf1"}
	installer := &recordingInstaller{}
	s := New(locator, installer, nil)

	flow := FlowKey{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Proto: 6, SrcPort: 1111, DstPort: 80}
	if err := s.OnPacket(context.Background(), flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(installer.sameLeaf) != 1 || installer.sameLeaf[0] != "leaf1" {
		t.Fatalf("expected one same-leaf install on leaf1, got %v", installer.sameLeaf)
	}
	if len(installer.crossLeaf) != 0 {
		t.Fatalf("expected no cross-leaf installs, got %v", installer.crossLeaf)
	}
}

func TestSelector_StickyFlowInstallsOnce(t *testing.T) {
	locator := staticLocator{"10.0.0.1": "leaf1", "10.0.0.2": "leaf2"}
	installer := &recordingInstaller{}
	s := New(locator, installer, nil)
	doc := path.Derive(testPairs(), func(k model.PathKey) model.PathPrediction {
		return model.PathPrediction{Path: k, Predicted: 1000, Mode: model.ModeRealtime}
	}, timeZero, path.DeriveOptions{})
	s.LoadWeights(testPairs(), doc)

	flow := FlowKey{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Proto: 6, SrcPort: 1111, DstPort: 80}
	for i := 0; i < 5; i++ {
		if err := s.OnPacket(context.Background(), flow); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(installer.crossLeaf) != 1 {
		t.Fatalf("expected exactly 1 install for a sticky flow, got %d", len(installer.crossLeaf))
	}
}

func TestSelector_MulticastDestinationDropped(t *testing.T) {
	locator := staticLocator{"10.0.0.1": "leaf1"}
	installer := &recordingInstaller{}
	s := New(locator, installer, nil)
	flow := FlowKey{SrcIP: "10.0.0.1", DstIP: "224.0.0.5", Proto: 17, SrcPort: 1, DstPort: 2}
	if err := s.OnPacket(context.Background(), flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(installer.crossLeaf) != 0 || len(installer.sameLeaf) != 0 {
		t.Fatalf("expected multicast packet to be dropped with no installs")
	}
}

func TestSelector_SWRRDistributesAcrossBothSpines(t *testing.T) {
	locator := staticLocator{"10.0.0.1": "leaf1", "10.0.0.2": "leaf2"}
	installer := &recordingInstaller{}
	s := New(locator, installer, nil)
	// Equal estimates -> equal weights -> alternating spine0/spine1 selection.
	doc := path.Derive(testPairs(), func(k model.PathKey) model.PathPrediction {
		return model.PathPrediction{Path: k, Predicted: 1000, Mode: model.ModeRealtime}
	}, timeZero, path.DeriveOptions{})
	s.LoadWeights(testPairs(), doc)

	spineOf := func(idx int) string {
		flow := FlowKey{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Proto: 6, SrcPort: uint16(1000 + idx), DstPort: 80}
		_ = s.OnPacket(context.Background(), flow)
		return installer.crossLeaf[len(installer.crossLeaf)-1]
	}
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[spineOf(i)] = true
	}
	if !seen["spine0"] || !seen["spine1"] {
		t.Fatalf("expected both spines to be used under equal weights, saw %v", seen)
	}
}
