// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"testing"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

func intElems(stops ...stream.StopLevel) []stream.Elem[int] {
	out := make([]stream.Elem[int], len(stops))
	for i, s := range stops {
		out[i] = stream.Elem[int]{Data: i, Stop: s}
	}
	return out
}

func runIntPipeline(t *testing.T, input []stream.Elem[int], want []stream.Elem[int], build func(b *sim.Builder, in *sim.Receiver[stream.Elem[int]], out *sim.Sender[stream.Elem[int]])) {
	t.Helper()
	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[stream.Elem[int]](b)
	outSnd, outRcv := sim.Unbounded[stream.Elem[int]](b)
	b.Add(NewGenerator(inSnd, input, testID))
	build(b, inRcv, outSnd)
	b.Add(NewChecker(outRcv, want, intElemEq, testID))
	mustRun(t, b)
}

func TestPromote_InsertsDimension(t *testing.T) {
	cases := []struct {
		name        string
		promoteRank stream.StopLevel
		input       []stream.StopLevel
		want        []stream.StopLevel
	}{
		// rank 2: só o fechamento mais externo sobe.
		{"rank2", 2, []stream.StopLevel{0, 0, 1, 0, 0, 2}, []stream.StopLevel{0, 0, 1, 0, 0, 3}},
		// rank 0: todo valor vira um grupo de um elemento.
		{"rank0", 0, []stream.StopLevel{0, 0, 1}, []stream.StopLevel{1, 1, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runIntPipeline(t, intElems(tc.input...), intElems(tc.want...),
				func(b *sim.Builder, in *sim.Receiver[stream.Elem[int]], out *sim.Sender[stream.Elem[int]]) {
					b.Add(NewPromote(in, out, tc.promoteRank, testID))
				})
		})
	}
}

func TestFlatten_CollapsesRange(t *testing.T) {
	// (2, 2, 2) com Flatten(1, 2): níveis 2 viram 1, nível 3 desce para 2.
	input := []stream.StopLevel{0, 1, 0, 2, 0, 1, 0, 3}
	want := []stream.StopLevel{0, 1, 0, 1, 0, 1, 0, 2}
	runIntPipeline(t, intElems(input...), intElems(want...),
		func(b *sim.Builder, in *sim.Receiver[stream.Elem[int]], out *sim.Sender[stream.Elem[int]]) {
			node, err := NewFlatten(in, out, 1, 2, testID)
			if err != nil {
				t.Fatalf("NewFlatten error: %v", err)
			}
			b.Add(node)
		})
}

// TestFlattenPromote_Identity: Flatten(a, a+1) desfaz Promote(a) na
// aritmética de níveis.
func TestFlattenPromote_Identity(t *testing.T) {
	input := intElems(0, 0, 1, 0, 0, 2)
	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[stream.Elem[int]](b)
	midSnd, midRcv := sim.Unbounded[stream.Elem[int]](b)
	outSnd, outRcv := sim.Unbounded[stream.Elem[int]](b)

	b.Add(NewGenerator(inSnd, input, testID))
	b.Add(NewPromote(inRcv, midSnd, 1, testID))
	flatten, err := NewFlatten(midRcv, outSnd, 1, 2, testID)
	if err != nil {
		t.Fatalf("NewFlatten error: %v", err)
	}
	b.Add(flatten)
	b.Add(NewChecker(outRcv, input, intElemEq, testID))
	mustRun(t, b)
}

func TestRepeatStatic_AddsInnerDimension(t *testing.T) {
	input := intElems(0, 1)
	want := []stream.Elem[int]{
		{Data: 0, Stop: 0}, {Data: 0, Stop: 0}, {Data: 0, Stop: 1},
		{Data: 1, Stop: 0}, {Data: 1, Stop: 0}, {Data: 1, Stop: 2},
	}
	runIntPipeline(t, input, want,
		func(b *sim.Builder, in *sim.Receiver[stream.Elem[int]], out *sim.Sender[stream.Elem[int]]) {
			b.Add(NewRepeatStatic(in, out, 3, testID))
		})
}

func TestExpandRef_FollowsReferenceGroups(t *testing.T) {
	// Entrada [2] (7 com S1, 8 com S2); ref fecha grupos de 3 com S1, o último com S2.
	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[stream.Elem[int]](b)
	refSnd, refRcv := sim.Unbounded[stream.Elem[int]](b)
	outSnd, outRcv := sim.Unbounded[stream.Elem[int]](b)

	b.Add(NewGenerator(inSnd, []stream.Elem[int]{
		stream.ValStop(7, 1), stream.ValStop(8, 2),
	}, testID))
	b.Add(NewGenerator(refSnd, []stream.Elem[int]{
		stream.Val(0), stream.Val(0), stream.ValStop(0, 1),
		stream.Val(0), stream.Val(0), stream.ValStop(0, 2),
	}, testID))
	b.Add(NewExpandRef(inRcv, refRcv, outSnd, 1, testID))
	b.Add(NewChecker(outRcv, []stream.Elem[int]{
		stream.Val(7), stream.Val(7), stream.ValStop(7, 1),
		stream.Val(8), stream.Val(8), stream.ValStop(8, 2),
	}, intElemEq, testID))

	mustRun(t, b)
}

func TestReshape_SplitInnerWithPadding(t *testing.T) {
	// 9 valores, chunk 4: saem 12 elementos com stops nas posições 4, 8
	// e 12; os 3 últimos são padding.
	pad := stream.BlankTilePadded[float32](1, 4, 2, true, 0)
	val := stream.BlankTile[float32](1, 4, 2, true)

	input := make([]tileElem, 9)
	for i := range input {
		input[i] = stream.Val(val)
	}
	want := []tileElem{
		stream.Val(val), stream.Val(val), stream.Val(val), stream.ValStop(val, 1),
		stream.Val(val), stream.Val(val), stream.Val(val), stream.ValStop(val, 1),
		stream.Val(val), stream.Val(pad), stream.Val(pad), stream.ValStop(pad, 1),
	}

	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)
	b.Add(NewGenerator(inSnd, input, testID))
	b.Add(NewReshape(inRcv, outSnd, 0, 4, &pad, 0, false, testID))
	b.Add(NewChecker(outRcv, want, tileElemEq, testID))
	mustRun(t, b)
}

func TestReshape_SplitInnerAlignedStops(t *testing.T) {
	// (3, 9) com chunk 4 e padding: cada linha vira (3, 4) e o S1 da
	// linha sobe para S2 no fim do padding.
	pad := stream.BlankTilePadded[float32](1, 4, 2, true, 0)
	val := stream.BlankTile[float32](1, 4, 2, true)

	row := func(last bool) []tileElem {
		out := make([]tileElem, 0, 12)
		for i := 0; i < 8; i++ {
			if (i+1)%4 == 0 {
				out = append(out, stream.ValStop(val, 1))
			} else {
				out = append(out, stream.Val(val))
			}
		}
		out = append(out, stream.Val(val), stream.Val(pad), stream.Val(pad))
		if last {
			out = append(out, stream.ValStop(pad, 3))
		} else {
			out = append(out, stream.ValStop(pad, 2))
		}
		return out
	}

	var input []tileElem
	for r := 0; r < 3; r++ {
		for i := 0; i < 8; i++ {
			input = append(input, stream.Val(val))
		}
		if r == 2 {
			input = append(input, stream.ValStop(val, 2))
		} else {
			input = append(input, stream.ValStop(val, 1))
		}
	}
	var want []tileElem
	want = append(want, row(false)...)
	want = append(want, row(false)...)
	want = append(want, row(true)...)

	b := sim.NewBuilder()
	inSnd, inRcv := sim.Unbounded[tileElem](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)
	b.Add(NewGenerator(inSnd, input, testID))
	b.Add(NewReshape(inRcv, outSnd, 0, 4, &pad, 2, false, testID))
	b.Add(NewChecker(outRcv, want, tileElemEq, testID))
	mustRun(t, b)
}

func TestReshape_SplitOuterPromotesEveryChunk(t *testing.T) {
	// split_dim 1, chunk 2: cada segundo S1 vira S2.
	input := intElems(0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1)
	want := intElems(0, 0, 1, 0, 0, 2, 0, 0, 1, 0, 0, 2)
	runIntPipeline(t, input, want,
		func(b *sim.Builder, in *sim.Receiver[stream.Elem[int]], out *sim.Sender[stream.Elem[int]]) {
			b.Add(NewReshape[int](in, out, 1, 2, nil, 1, false, testID))
		})
}
