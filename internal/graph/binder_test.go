// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package graph

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/sim"
)

func testHBMConfig() mem.HBMConfig {
	return mem.HBMConfig{
		AddrOffset:   64,
		ChannelNum:   8,
		Latency:      2,
		InitInterval: 2,
		Outstanding:  1,
		StartUpTime:  14,
	}
}

type noTensors struct{}

func (noTensors) Float32(string) ([]int, []float32, error) { return nil, nil, os.ErrNotExist }
func (noTensors) Uint64(string) ([]int, []uint64, error)   { return nil, nil, os.ErrNotExist }
func (noTensors) Bool(string) ([]int, []bool, error)       { return nil, nil, os.ErrNotExist }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadConsumeProgram: um load timing-only alimentando um consumer.
func loadConsumeProgram() *Program {
	return &Program{Operations: []Operation{
		{ID: 1, Name: "input", OffChipLoad: &OffChipLoadOp{
			DType:            DTypeF32,
			TensorShapeTiled: []int{2, 2},
			Stride:           []int{2, 1},
			OutShapeTiled:    []int{2, 2},
			TileRow:          16, TileCol: 16,
			ParDispatch: 8,
		}},
		{ID: 2, Name: "drain", Consumer: &ConsumerOp{Input: StreamRef{ID: 1}, DType: DTypeF32}},
	}}
}

func TestBind_LoadConsumeRuns(t *testing.T) {
	b := sim.NewBuilder()
	bound, err := Bind(loadConsumeProgram(), b, testHBMConfig(), BindParams{ChannelDepth: 1}, noTensors{}, nil, discard())
	if err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if bound.HBM == nil {
		t.Fatal("expected the HBM context to be registered")
	}
	elapsed, err := b.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if elapsed == 0 {
		t.Fatal("expected simulated cycles to accumulate")
	}
}

func TestBind_BroadcastFanOut(t *testing.T) {
	prog := &Program{Operations: []Operation{
		{ID: 1, OffChipLoad: &OffChipLoadOp{
			DType:            DTypeF32,
			TensorShapeTiled: []int{1, 2},
			Stride:           []int{1, 1},
			OutShapeTiled:    []int{1, 2},
			TileRow:          16, TileCol: 16,
			ParDispatch: 8,
		}},
		{ID: 2, Broadcast: &BroadcastOp{Input: StreamRef{ID: 1}, DType: DTypeF32, NumConsumers: 2}},
		{ID: 3, Consumer: &ConsumerOp{Input: StreamRef{ID: 2, StreamIdx: streamIdx(0)}, DType: DTypeF32}},
		{ID: 4, Consumer: &ConsumerOp{Input: StreamRef{ID: 2, StreamIdx: streamIdx(1)}, DType: DTypeF32}},
	}}

	b := sim.NewBuilder()
	if _, err := Bind(prog, b, testHBMConfig(), BindParams{ChannelDepth: 1}, noTensors{}, nil, discard()); err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if _, err := b.Run(); err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

func TestBind_UnknownOpFails(t *testing.T) {
	prog := &Program{Operations: []Operation{{ID: 7, Name: "mystery"}}}
	b := sim.NewBuilder()
	if _, err := Bind(prog, b, testHBMConfig(), BindParams{}, noTensors{}, nil, discard()); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("expected ErrUnknownOp, got %v", err)
	}
}

func TestBind_WrongDTypeFails(t *testing.T) {
	prog := &Program{Operations: []Operation{
		{ID: 1, Promote: &PromoteOp{Input: StreamRef{ID: 9}, DType: DTypeMultiHot, PromoteRank: 1}},
	}}
	b := sim.NewBuilder()
	if _, err := Bind(prog, b, testHBMConfig(), BindParams{}, noTensors{}, nil, discard()); !errors.Is(err, ErrDType) {
		t.Fatalf("expected ErrDType, got %v", err)
	}
}

func TestJSONSource_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "program.json")
	body := `{"operations": [
		{"id": 1, "name": "input", "off_chip_load": {
			"dtype": "f32",
			"tensor_shape_tiled": [2, 2],
			"stride": [2, 1],
			"out_shape_tiled": [2, 2],
			"tile_row": 16, "tile_col": 16, "par_dispatch": 8
		}},
		{"id": 2, "name": "drain", "consumer": {"input": {"id": 1}, "dtype": "f32"}}
	]}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing graph: %v", err)
	}

	prog, err := JSONSource{Path: path}.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(prog.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(prog.Operations))
	}
	if prog.Operations[0].OffChipLoad == nil || prog.Operations[1].Consumer == nil {
		t.Fatalf("operations did not decode into their op types: %+v", prog.Operations)
	}
}

func TestJSONSource_DuplicateIDFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "program.json")
	body := `{"operations": [
		{"id": 1, "consumer": {"input": {"id": 2}, "dtype": "f32"}},
		{"id": 1, "consumer": {"input": {"id": 3}, "dtype": "f32"}}
	]}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing graph: %v", err)
	}
	if _, err := (JSONSource{Path: path}).Load(); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestChannelMap_DepthOverride(t *testing.T) {
	b := sim.NewBuilder()
	bd := &binder{b: b, params: BindParams{ChannelDepth: 4, DepthOverrides: map[uint32]int{7: 1}}}
	if d := bd.depth(7); d != 1 {
		t.Fatalf("expected override depth 1, got %d", d)
	}
	if d := bd.depth(8); d != 4 {
		t.Fatalf("expected default depth 4, got %d", d)
	}
}
