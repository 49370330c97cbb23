// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"errors"
	"testing"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

func TestBinaryMap_MulValues(t *testing.T) {
	b := sim.NewBuilder()
	in1Snd, in1Rcv := sim.Unbounded[tileElem](b)
	in2Snd, in2Rcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	var in1, in2, want []tileElem
	for i := 0; i < 4; i++ {
		in1 = append(in1, stream.Val(valueTile(float32(i), true)))
		in2 = append(in2, stream.Val(valueTile(2, true)))
		// write_back_mu=true marca a saída como read_from_mu.
		want = append(want, stream.Val(valueTile(float32(2*i), true)))
	}

	b.Add(NewGenerator(in1Snd, in1, testID))
	b.Add(NewGenerator(in2Snd, in2, testID))
	b.Add(NewBinaryMap(in1Rcv, in2Rcv, outSnd, Mul[float32](), 1024, true, testID, nil))
	b.Add(NewChecker(outRcv, want, tileElemEq, testID))

	mustRun(t, b)
}

func TestBinaryMap_StopMismatchFails(t *testing.T) {
	b := sim.NewBuilder()
	in1Snd, in1Rcv := sim.Unbounded[tileElem](b)
	in2Snd, in2Rcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	b.Add(NewGenerator(in1Snd, []tileElem{stream.ValStop(valueTile(1, false), 1)}, testID))
	b.Add(NewGenerator(in2Snd, []tileElem{stream.Val(valueTile(1, false))}, testID))
	b.Add(NewBinaryMap(in1Rcv, in2Rcv, outSnd, Mul[float32](), 1024, false, testID, nil))
	b.Add(NewConsumer(outRcv, testID))

	if _, err := b.Run(); !errors.Is(err, ErrStopMismatch) {
		t.Fatalf("expected ErrStopMismatch, got %v", err)
	}
}

func TestUnaryMap_RooflineCycles(t *testing.T) {
	// Tile 2x2 de 4 bytes vindo da PMU: load = ⌈16/64⌉ = 1; compute de
	// row_wise_sum = ⌈4/1⌉ = 4; store = ⌈8/64⌉ = 1 → roofline 4 por tile.
	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	input := []tileElem{
		stream.Val(valueTile(1, true)),
		stream.ValStop(valueTile(2, true), 1),
	}
	b.Add(NewGenerator(inSnd, input, testID))
	b.Add(NewUnaryMap(inRcv, outSnd, RowWiseSum[float32], 1, true, testID, nil))
	coll := newCollector(outRcv)
	b.Add(coll)

	mustRun(t, b)
	if len(coll.got) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(coll.got))
	}
	// row_wise_sum de um 2x2 constante v: coluna [2v, 2v].
	if coll.got[0].Data.Cols != 1 || coll.got[0].Data.At(0, 0) != 2 {
		t.Fatalf("expected row sum 2, got %v", coll.got[0].Data.At(0, 0))
	}
	// O primeiro tile entra em t>=0 e sai após o roofline de 4 ciclos.
	if coll.when[0] < 4 {
		t.Fatalf("expected first output at or after cycle 4, got %d", coll.when[0])
	}
}

func TestBinaryMapAccum_MatmulReduction(t *testing.T) {
	// Tiles 1x1: (2*3) + (4*5) = 26, emitido no S1 que fecha o eixo de
	// redução; o S2 seguinte emite e rebaixa o nível para 1.
	one := func(v float32, stop stream.StopLevel) tileElem {
		return tileElem{Data: stream.NewTile(1, 1, []float32{v}, 4, false), Stop: stop}
	}

	b := sim.NewBuilder()
	in1Snd, in1Rcv := sim.Unbounded[tileElem](b)
	in2Snd, in2Rcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	b.Add(NewGenerator(in1Snd, []tileElem{one(2, 0), one(4, 1), one(6, 0), one(8, 2)}, testID))
	b.Add(NewGenerator(in2Snd, []tileElem{one(3, 0), one(5, 1), one(1, 0), one(2, 2)}, testID))

	initAccum := func() stream.Tile[float32] {
		return stream.ZeroTile[float32](1, 1, 4, true)
	}
	b.Add(NewBinaryMapAccum(in1Rcv, in2Rcv, outSnd, MapAccumMatmul[float32](false), initAccum, 1, 1024, false, testID, nil))
	coll := newCollector(outRcv)
	b.Add(coll)

	mustRun(t, b)
	if len(coll.got) != 2 {
		t.Fatalf("expected 2 accumulated outputs, got %d", len(coll.got))
	}
	if got := coll.got[0].Data.At(0, 0); got != 26 {
		t.Fatalf("expected 26, got %v", got)
	}
	if coll.got[0].Stop != 0 {
		t.Fatalf("first emission closes exactly the reduction axis, got stop %d", coll.got[0].Stop)
	}
	if got := coll.got[1].Data.At(0, 0); got != 22 {
		t.Fatalf("expected 22, got %v", got)
	}
	if coll.got[1].Stop != 1 {
		t.Fatalf("expected residual stop 1, got %d", coll.got[1].Stop)
	}
}

func TestAccum_RetileColConcatenates(t *testing.T) {
	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	b.Add(NewGenerator(inSnd, []tileElem{
		stream.Val(valueTile(1, true)),
		stream.Val(valueTile(2, true)),
		stream.ValStop(valueTile(3, true), 1),
	}, testID))
	initAccum := func() stream.Tile[float32] {
		return stream.EmptyTile[float32](2, 0, 4, true)
	}
	b.Add(NewAccum(inRcv, outSnd, RetileCol[float32], initAccum, 1, 1024, false, testID, nil))
	coll := newCollector(outRcv)
	b.Add(coll)

	mustRun(t, b)
	if len(coll.got) != 1 {
		t.Fatalf("expected one retiled output, got %d", len(coll.got))
	}
	tile := coll.got[0].Data
	if tile.Rows != 2 || tile.Cols != 6 {
		t.Fatalf("expected a 2x6 tile, got %dx%d", tile.Rows, tile.Cols)
	}
	wantRow := []float32{1, 1, 2, 2, 3, 3}
	for j, want := range wantRow {
		if tile.At(0, j) != want {
			t.Fatalf("column %d: expected %v, got %v", j, want, tile.At(0, j))
		}
	}
}

func TestRetileStreamify_SplitsRowsWithMask(t *testing.T) {
	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	// Tile 3x2 com só 2 linhas válidas e filter_mask: o retile para na
	// marca e propaga o stop para a última fatia válida.
	tile := stream.NewTilePadded(3, 2, []float32{1, 1, 2, 2, 0, 0}, 4, false, 2)
	b.Add(NewGenerator(inSnd, []tileElem{stream.ValStop(tile, 1)}, testID))
	b.Add(NewRetileStreamify(inRcv, outSnd, true, true, testID))
	coll := newCollector(outRcv)
	b.Add(coll)

	mustRun(t, b)
	if len(coll.got) != 2 {
		t.Fatalf("expected 2 slices up to the valid-row mark, got %d", len(coll.got))
	}
	if coll.got[1].Stop != 1 {
		t.Fatalf("expected the stop on the last valid slice, got %d", coll.got[1].Stop)
	}
	if coll.got[0].Data.Rows != 1 || coll.got[0].Data.Cols != 2 {
		t.Fatalf("expected 1x2 slices, got %dx%d", coll.got[0].Data.Rows, coll.got[0].Data.Cols)
	}
}
