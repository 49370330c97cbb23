// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package driver amarra um grafo deserializado à simulação: monta os
// atores via binder, roda o programa até quiescer e devolve o
// resultado (ciclos simulados, duração de parede, digests funcionais e
// picos de recursos do host).
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/step-sim/internal/config"
	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/graph"
	"github.com/nishisan-dev/step-sim/internal/host"
	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/npy"
	"github.com/nishisan-dev/step-sim/internal/sim"
)

// Result é o resumo de um run.
type Result struct {
	Passed        bool              `json:"passed"`
	ElapsedCycles uint64            `json:"elapsed_cycles"`
	DurationMs    int64             `json:"duration_ms"`
	DurationS     uint64            `json:"duration_s"`
	OutputDigests map[uint32]uint64 `json:"output_digests,omitempty"`
	Host          host.Stats        `json:"host"`
}

// Options parametriza um run.
type Options struct {
	Logger *slog.Logger
	Events *events.Logger
	// Tensors resolve os .npy funcionais; default lê do filesystem.
	Tensors graph.TensorSource
	// Monitor liga a amostragem de recursos do host.
	Monitor bool
}

// npyTensors é a implementação default de TensorSource.
type npyTensors struct{}

func (npyTensors) Float32(path string) ([]int, []float32, error) { return npy.ReadFloat32(path) }
func (npyTensors) Uint64(path string) ([]int, []uint64, error)   { return npy.ReadUint64(path) }
func (npyTensors) Bool(path string) ([]int, []bool, error)       { return npy.ReadBool(path) }

// Run executa o grafo sob a configuração dada.
func Run(ctx context.Context, prog *graph.Program, simCfg config.SimConfig, hbmCfg mem.HBMConfig, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tensors := opts.Tensors
	if tensors == nil {
		tensors = npyTensors{}
	}

	builder := sim.NewBuilder()
	bound, err := graph.Bind(prog, builder, hbmCfg, graph.BindParams{
		ChannelDepth:   simCfg.ChannelDepth,
		DepthOverrides: simCfg.DepthOverrides,
		FunctionalSim:  simCfg.FunctionalSim,
		MockBF16:       simCfg.MockBF16,
	}, tensors, opts.Events, logger)
	if err != nil {
		return Result{}, err
	}

	var monitor *host.Monitor
	if opts.Monitor {
		monitor = host.NewMonitor(logger, time.Second)
		monitor.Start()
	}

	start := time.Now()
	cycles, runErr := builder.Run()
	duration := time.Since(start)

	result := Result{
		Passed:        runErr == nil,
		ElapsedCycles: cycles,
		DurationMs:    duration.Milliseconds(),
		DurationS:     uint64(duration.Seconds()),
	}
	if monitor != nil {
		result.Host = monitor.Stop()
	}
	for id, store := range bound.Stores {
		if d := store.Digest(); d != 0 {
			if result.OutputDigests == nil {
				result.OutputDigests = map[uint32]uint64{}
			}
			result.OutputDigests[id] = d
		}
	}

	logger.Info("simulation finished",
		"passed", result.Passed,
		"elapsed_cycles", result.ElapsedCycles,
		"duration", duration,
	)
	if runErr != nil {
		return result, fmt.Errorf("running simulation: %w", runErr)
	}
	return result, nil
}
