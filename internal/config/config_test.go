// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "graph: program.json\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HBM.AddrOffset != 64 || cfg.HBM.ChannelNum != 8 || cfg.HBM.StartUpTime != 14 {
		t.Fatalf("unexpected HBM defaults: %+v", cfg.HBM)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Trace.Sink != "none" || cfg.Trace.RingCap != 4096 {
		t.Fatalf("unexpected trace defaults: %+v", cfg.Trace)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
graph: moe.json
sim:
  channel_depth: 2
  functional_sim: true
  mock_bf16: true
  depth_overrides:
    12: 1
    40: 8
hbm:
  addr_offset: 64
  channel_num: 16
  per_channel_latency: 4
  per_channel_init_interval: 2
  per_channel_outstanding: 4
  per_channel_start_up_time: 20
trace:
  sink: file
  path: trace.jsonl.gz
daemon:
  schedule: "0 3 * * *"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.Sim.FunctionalSim || !cfg.Sim.MockBF16 || cfg.Sim.ChannelDepth != 2 {
		t.Fatalf("unexpected sim config: %+v", cfg.Sim)
	}
	if cfg.Sim.DepthOverrides[12] != 1 || cfg.Sim.DepthOverrides[40] != 8 {
		t.Fatalf("unexpected depth overrides: %v", cfg.Sim.DepthOverrides)
	}
	if cfg.HBM.ChannelNum != 16 || cfg.HBM.Latency != 4 {
		t.Fatalf("unexpected HBM config: %+v", cfg.HBM)
	}
	if cfg.Daemon.Schedule == "" {
		t.Fatal("expected daemon schedule to be kept")
	}
}

func TestLoad_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing graph", "sim:\n  channel_depth: 1\n"},
		{"bad sink", "graph: g.json\ntrace:\n  sink: kafka\n"},
		{"file sink without path", "graph: g.json\ntrace:\n  sink: file\n"},
		{"s3 sink without bucket", "graph: g.json\ntrace:\n  sink: s3\n"},
		{"zero depth override", "graph: g.json\nsim:\n  depth_overrides:\n    3: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
