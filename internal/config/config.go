// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida o arquivo YAML do simulador: grafo,
// knobs de simulação, parâmetros de HBM, logging, destino de trace e o
// schedule opcional do modo daemon.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/step-sim/internal/mem"
)

// SimConfig são os knobs da simulação.
type SimConfig struct {
	// ChannelDepth é a profundidade default dos canais (0 = 1024).
	ChannelDepth int `yaml:"channel_depth"`
	// FunctionalSim liga a propagação de valores reais via .npy.
	FunctionalSim bool `yaml:"functional_sim"`
	// MockBF16 contabiliza payloads f32 como 2 bytes.
	MockBF16 bool `yaml:"mock_bf16"`
	// DepthOverrides ajusta a profundidade por id de nó produtor.
	DepthOverrides map[uint32]int `yaml:"depth_overrides"`
}

// LoggingInfo configura o slog do processo.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// TraceInfo configura o sink de eventos de operador.
type TraceInfo struct {
	// Sink: "none", "file" ou "s3".
	Sink string `yaml:"sink"`
	// Path do arquivo JSONL (gzip quando termina em .gz).
	Path string `yaml:"path"`
	// Bucket/Prefix do destino S3.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	// RingCap é quantos registros recentes ficam em memória.
	RingCap int `yaml:"ring_cap"`
}

// DaemonInfo configura o loop de regressão agendado.
type DaemonInfo struct {
	// Schedule é uma cron expression; vazio desliga o modo daemon.
	Schedule string `yaml:"schedule"`
}

// Config é o arquivo completo.
type Config struct {
	// Graph é o caminho do grafo serializado.
	Graph   string        `yaml:"graph"`
	Sim     SimConfig     `yaml:"sim"`
	HBM     mem.HBMConfig `yaml:"hbm"`
	Logging LoggingInfo   `yaml:"logging"`
	Trace   TraceInfo     `yaml:"trace"`
	Daemon  DaemonInfo    `yaml:"daemon"`
}

// Load lê e valida o arquivo de configuração.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Graph == "" {
		return fmt.Errorf("graph is required")
	}
	if c.Sim.ChannelDepth < 0 {
		return fmt.Errorf("sim.channel_depth must be >= 0, got %d", c.Sim.ChannelDepth)
	}
	for id, depth := range c.Sim.DepthOverrides {
		if depth < 1 {
			return fmt.Errorf("sim.depth_overrides[%d] must be >= 1, got %d", id, depth)
		}
	}

	// Defaults de HBM seguem o perfil HBM2 usado nos testes de referência.
	if c.HBM.AddrOffset == 0 {
		c.HBM.AddrOffset = 64
	}
	if c.HBM.ChannelNum == 0 {
		c.HBM.ChannelNum = 8
	}
	if c.HBM.Latency == 0 {
		c.HBM.Latency = 2
	}
	if c.HBM.InitInterval == 0 {
		c.HBM.InitInterval = 2
	}
	if c.HBM.Outstanding == 0 {
		c.HBM.Outstanding = 1
	}
	if c.HBM.StartUpTime == 0 {
		c.HBM.StartUpTime = 14
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	switch c.Trace.Sink {
	case "":
		c.Trace.Sink = "none"
	case "none":
	case "file":
		if c.Trace.Path == "" {
			return fmt.Errorf("trace.path is required for the file sink")
		}
	case "s3":
		if c.Trace.Bucket == "" {
			return fmt.Errorf("trace.bucket is required for the s3 sink")
		}
	default:
		return fmt.Errorf("trace.sink must be none, file or s3, got %q", c.Trace.Sink)
	}
	if c.Trace.RingCap <= 0 {
		c.Trace.RingCap = 4096
	}
	return nil
}
