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

// Package config loads the YAML configuration shared by the central,
// edge, and SDN-side processes, layered under a small set of flag
// overrides the way the teacher's cmd/ratelimiter-api/main.go does with
// plain flags — but for the control plane's much larger knob surface a
// single structured document is loaded instead of two dozen individual
// flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fabricctl/internal/model"
)

// BackendSpec is one pool member as declared in the config file.
type BackendSpec struct {
	ID             string `yaml:"id"`
	Address        string `yaml:"address"`
	Tier           int    `yaml:"tier"`
	CapacityCores  int    `yaml:"capacity_cores"`
	CapacityMemory int64  `yaml:"capacity_memory"`
}

// TierIntervalSpec is one entry of the proactive tier ladder.
type TierIntervalSpec struct {
	Tier  int     `yaml:"tier"`
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"` // 0 means +Inf, valid only for the last entry
}

// PersistenceConfig selects and configures the durable storage backend.
type PersistenceConfig struct {
	Backend     string `yaml:"backend"` // "mock", "redis", "kafka", "postgres"
	RedisAddr   string `yaml:"redis_addr"`
	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// CapacityConfig holds the capacity section. Ladder is consumed via
// LadderOrDefault; StabilisationPeriod and DrainPeriod are parsed but not
// read by the capacity controller, which uses its own fixed timers.
type CapacityConfig struct {
	StabilisationPeriod time.Duration      `yaml:"stabilisation_period"`
	DrainPeriod         time.Duration      `yaml:"drain_period"`
	Ladder              []TierIntervalSpec `yaml:"ladder"`
}

// HealthConfig configures the health checker.
type HealthConfig struct {
	ProbePath     string        `yaml:"probe_path"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// StatusDocConfig configures the status document sync.
type StatusDocConfig struct {
	LocalPath  string `yaml:"local_path"`
	RemotePath string `yaml:"remote_path"`
}

// FabricConfig declares the spine-leaf topology and the host->leaf
// attachment table the SDN selector needs to resolve a packet's source and
// destination IPs down to physical leaves.
type FabricConfig struct {
	Leaves []string          `yaml:"leaves"`
	Spines []string          `yaml:"spines"`
	Hosts  map[string]string `yaml:"hosts"` // IP -> leaf name
}

// PathConfig configures the telemetry collector/predictor/publisher that
// run on the central controller, plus the SDN-host-local copy the sdnapp
// binary reads.
type PathConfig struct {
	PreferHybrid  bool   `yaml:"prefer_hybrid"`
	WeightDocPath string `yaml:"weight_doc_path"`
	// RemoteWeightDocPath is where the sidecar push lands the document on
	// the SDN controller host; cmd/sdnapp reads from here, never from
	// WeightDocPath directly (spec §2: the two processes don't share state
	// other than this published document).
	RemoteWeightDocPath string        `yaml:"remote_weight_doc_path"`
	SidecarAddr         string        `yaml:"sidecar_addr"`
	FlowAuditPath       string        `yaml:"flow_audit_path"`
	CollectInterval     time.Duration `yaml:"collect_interval"`
	LoadBalancingMode   string        `yaml:"load_balancing_mode"`
	Description         string        `yaml:"description"`
}

// EdgeConfig configures the edge reconciliation loop.
type EdgeConfig struct {
	StatusPath   string        `yaml:"status_path"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// Config is the full control-plane configuration document.
type Config struct {
	HTTPAddr    string            `yaml:"http_addr"`
	MetricsAddr string            `yaml:"metrics_addr"`
	LogLevel    string            `yaml:"log_level"`

	Backends    []BackendSpec     `yaml:"backends"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Capacity    CapacityConfig    `yaml:"capacity"`
	Health      HealthConfig      `yaml:"health"`
	StatusDoc   StatusDocConfig   `yaml:"status_doc"`
	Fabric      FabricConfig      `yaml:"fabric"`
	Path        PathConfig        `yaml:"path"`
	Edge        EdgeConfig        `yaml:"edge"`

	AlertJournalCap int `yaml:"alert_journal_cap"`
}

// Default returns the built-in configuration used when no file overrides
// a section.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Persistence: PersistenceConfig{Backend: "mock"},
		Capacity: CapacityConfig{
			StabilisationPeriod: 80 * time.Second,
			DrainPeriod:         30 * time.Second,
		},
		Health: HealthConfig{
			ProbePath:     "/healthz",
			ProbeTimeout:  10 * time.Second,
			ProbeInterval: 10 * time.Second,
		},
		StatusDoc: StatusDocConfig{
			LocalPath:  "/var/run/fabricctl/status.json",
			RemotePath: "/var/run/fabricctl/edge/status.json",
		},
		Path: PathConfig{
			WeightDocPath:       "/var/run/fabricctl/weights.json",
			RemoteWeightDocPath: "/var/run/fabricctl/sdn/weights.json",
			FlowAuditPath:       "/var/run/fabricctl/flow-audit.jsonl",
			CollectInterval:     60 * time.Second,
			LoadBalancingMode:   "ecmp-weighted",
			Description:         "fabricctl path-selection weights",
		},
		Edge: EdgeConfig{
			StatusPath:   "/var/run/fabricctl/edge/status.json",
			TickInterval: 10 * time.Second,
		},
		AlertJournalCap: 500,
	}
}

// Flags registers the small set of command-line overrides every process
// binary exposes on top of the YAML document: where to find it, and the
// two network addresses operators most often need to override per host.
type Flags struct {
	Path        *string
	HTTPAddr    *string
	MetricsAddr *string
}

// RegisterFlags wires Flags onto fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Path:        fs.String("config", "config.yaml", "path to the YAML configuration file"),
		HTTPAddr:    fs.String("http_addr", "", "override http_addr from the config file"),
		MetricsAddr: fs.String("metrics_addr", "", "override metrics_addr from the config file"),
	}
}

// Load reads and parses the YAML document at path over the defaults, then
// applies any non-empty flag overrides. A missing or malformed config file
// is fatal: unlike the optional-file convenience in other example configs,
// this control plane has no safe implicit defaults for its backend pool or
// fabric topology.
func Load(f *Flags) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(*f.Path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", *f.Path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", *f.Path, err)
	}
	if f.HTTPAddr != nil && *f.HTTPAddr != "" {
		cfg.HTTPAddr = *f.HTTPAddr
	}
	if f.MetricsAddr != nil && *f.MetricsAddr != "" {
		cfg.MetricsAddr = *f.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants Load's callers depend on before wiring
// any component.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}
	if len(c.Fabric.Leaves) < 2 {
		return fmt.Errorf("config: fabric requires at least 2 leaves")
	}
	if len(c.Fabric.Spines) == 0 {
		return fmt.Errorf("config: fabric requires at least 1 spine")
	}
	switch c.Persistence.Backend {
	case "mock", "redis", "kafka", "postgres":
	default:
		return fmt.Errorf("config: unknown persistence.backend %q", c.Persistence.Backend)
	}
	return nil
}

// BackendPool converts the config's declared pool into model.Backend values.
func (c *Config) BackendPool() []model.Backend {
	out := make([]model.Backend, 0, len(c.Backends))
	for _, b := range c.Backends {
		out = append(out, model.Backend{
			ID:             b.ID,
			Address:        b.Address,
			Tier:           model.Tier(b.Tier),
			CapacityCores:  b.CapacityCores,
			CapacityMemory: b.CapacityMemory,
		})
	}
	return out
}

// LadderOrDefault converts the config's declared tier ladder into a model.Ladder,
// falling back to model.DefaultLadder when none is declared.
func (c *Config) LadderOrDefault() model.Ladder {
	if len(c.Capacity.Ladder) == 0 {
		return model.DefaultLadder()
	}
	out := make(model.Ladder, 0, len(c.Capacity.Ladder))
	for _, iv := range c.Capacity.Ladder {
		upper := iv.Upper
		if upper == 0 {
			upper = 1 << 62
		}
		out = append(out, model.TierInterval{Tier: model.Tier(iv.Tier), Lower: iv.Lower, Upper: upper})
	}
	return out
}
