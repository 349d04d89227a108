package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
http_addr: ":9000"
backends:
  - id: b1
    address: 10.0.0.1:80
    tier: 1
    capacity_cores: 4
    capacity_memory: 1073741824
fabric:
  leaves: [leaf1, leaf2]
  spines: [spine0, spine1]
persistence:
  backend: mock
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

func TestLoad_ValidConfigParsesAndValidates(t *testing.T) {
	p := writeTempConfig(t, sampleYAML)
	path := p
	httpAddr := ""
	metricsAddr := ""
	f := &Flags{Path: &path, HTTPAddr: &httpAddr, MetricsAddr: &metricsAddr}

	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("expected http_addr :9000, got %s", cfg.HTTPAddr)
	}
	if len(cfg.BackendPool()) != 1 {
		t.Fatalf("expected 1 backend, got %d", len(cfg.BackendPool()))
	}
}

func TestLoad_MissingBackendsFailsValidation(t *testing.T) {
	p := writeTempConfig(t, `
fabric:
  leaves: [leaf1, leaf2]
  spines: [spine0]
persistence:
  backend: mock
`)
	path := p
	empty := ""
	f := &Flags{Path: &path, HTTPAddr: &empty, MetricsAddr: &empty}
	if _, err := Load(f); err == nil {
		t.Fatalf("expected validation error for missing backends")
	}
}

func TestLoad_MissingFileIsFatal(t *testing.T) {
	path := "/nonexistent/path/config.yaml"
	empty := ""
	f := &Flags{Path: &path, HTTPAddr: &empty, MetricsAddr: &empty}
	if _, err := Load(f); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLadderOrDefault_FallsBackWhenUnset(t *testing.T) {
	cfg := Default()
	cfg.Backends = []BackendSpec{{ID: "b1"}}
	cfg.Fabric = FabricConfig{Leaves: []string{"leaf1", "leaf2"}, Spines: []string{"spine0"}}
	ladder := cfg.LadderOrDefault()
	if len(ladder) != 3 {
		t.Fatalf("expected default 3-tier ladder, got %d entries", len(ladder))
	}
}
