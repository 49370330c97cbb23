// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package driver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nishisan-dev/step-sim/internal/config"
	"github.com/nishisan-dev/step-sim/internal/graph"
	"github.com/nishisan-dev/step-sim/internal/mem"
)

func testHBM() mem.HBMConfig {
	return mem.HBMConfig{
		AddrOffset:   64,
		ChannelNum:   8,
		Latency:      2,
		InitInterval: 2,
		Outstanding:  1,
		StartUpTime:  14,
	}
}

// matmulProgram é o kernel de referência: Input[32,64] x W[64,64] com
// tiles de 16 linhas, B_tile 16 e tile_n 32, em modo timing-only.
//
//	mat1 [2,1] --repeat 2--> [V,S2,V,S3]
//	mat2 [2,1,2] ----------> [V,S2,V,S3]
//	matmul -> store [2,2]
func matmulProgram() *graph.Program {
	return &graph.Program{Operations: []graph.Operation{
		{ID: 1, Name: "input", OffChipLoad: &graph.OffChipLoadOp{
			DType:            graph.DTypeF32,
			TensorShapeTiled: []int{2, 1},
			Stride:           []int{1, 1},
			OutShapeTiled:    []int{2, 1},
			TileRow:          16, TileCol: 64,
			ParDispatch: 8,
		}},
		{ID: 2, Name: "repeat_input", RepeatStatic: &graph.RepeatStaticOp{
			Input: graph.StreamRef{ID: 1}, DType: graph.DTypeF32, RepeatFactor: 2,
		}},
		{ID: 3, Name: "w_q", OffChipLoad: &graph.OffChipLoadOp{
			DType:            graph.DTypeF32,
			TensorShapeTiled: []int{1, 2},
			Stride:           []int{0, 2, 1},
			OutShapeTiled:    []int{2, 1, 2},
			TileRow:          64, TileCol: 32,
			ParDispatch: 8,
		}},
		{ID: 4, Name: "gen_q", BinaryMap: &graph.BinaryMapOp{
			In1: graph.StreamRef{ID: 2}, In2: graph.StreamRef{ID: 3},
			DType1: graph.DTypeF32, DType2: graph.DTypeF32, OutDType: graph.DTypeF32,
			Fn:        "matmul",
			ComputeBW: 1022, WriteBackMU: true,
		}},
		{ID: 5, Name: "output", OffChipStore: &graph.OffChipStoreOp{
			Input: graph.StreamRef{ID: 4}, DType: graph.DTypeF32,
			TensorShapeTiled: []int{2, 2},
			TileRow:          16, TileCol: 32,
			ParDispatch: 8,
		}},
	}}
}

func TestRun_MatmulTimingOnly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	simCfg := config.SimConfig{ChannelDepth: 1}

	result, err := Run(context.Background(), matmulProgram(), simCfg, testHBM(), Options{Logger: logger})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !result.Passed {
		t.Fatal("expected the run to pass")
	}
	if result.ElapsedCycles == 0 {
		t.Fatal("expected simulated cycles to accumulate")
	}
	// Piso: ler os dois tiles 16x64 f32 de entrada sobre 8 canais
	// (128 requisições, 16 por canal) não termina antes de 14 + 15·2 + 2 = 46.
	if result.ElapsedCycles < 46 {
		t.Fatalf("elapsed cycles %d below the memory floor", result.ElapsedCycles)
	}
}

func TestRun_Deterministic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	simCfg := config.SimConfig{ChannelDepth: 1}

	first, err := Run(context.Background(), matmulProgram(), simCfg, testHBM(), Options{Logger: logger})
	if err != nil {
		t.Fatalf("first run error: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := Run(context.Background(), matmulProgram(), simCfg, testHBM(), Options{Logger: logger})
		if err != nil {
			t.Fatalf("run %d error: %v", i+2, err)
		}
		if again.ElapsedCycles != first.ElapsedCycles {
			t.Fatalf("non-deterministic elapsed cycles: %d vs %d", first.ElapsedCycles, again.ElapsedCycles)
		}
	}
}

func TestRun_MockBF16ShrinksMemoryTraffic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	full, err := Run(context.Background(), matmulProgram(), config.SimConfig{ChannelDepth: 1}, testHBM(), Options{Logger: logger})
	if err != nil {
		t.Fatalf("f32 run error: %v", err)
	}
	half, err := Run(context.Background(), matmulProgram(), config.SimConfig{ChannelDepth: 1, MockBF16: true}, testHBM(), Options{Logger: logger})
	if err != nil {
		t.Fatalf("bf16 run error: %v", err)
	}
	if half.ElapsedCycles >= full.ElapsedCycles {
		t.Fatalf("bf16 accounting should shorten the run: %d vs %d", half.ElapsedCycles, full.ElapsedCycles)
	}
}
