// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"testing"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

type tileElem = stream.Elem[stream.Tile[float32]]

func blankElems(stops ...stream.StopLevel) []tileElem {
	out := make([]tileElem, len(stops))
	for i, s := range stops {
		out[i] = tileElem{Data: stream.BlankTile[float32](2, 2, 2, false), Stop: s}
	}
	return out
}

// roundTrip liga generator → bufferize → streamify → checker.
func roundTrip(t *testing.T, input []tileElem, bufferizeRank stream.StopLevel, repeatFactor []int, want []tileElem) {
	t.Helper()
	b := sim.NewBuilder()
	genSnd, genRcv := sim.Unbounded[tileElem](b)
	buffSnd, buffRcv := sim.Bounded[stream.Elem[stream.Buffer[stream.Tile[float32]]]](b, 1)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	b.Add(NewGenerator(genSnd, input, testID))
	b.Add(NewBufferize(genRcv, buffSnd, bufferizeRank, testID, nil))
	b.Add(NewStreamify(buffRcv, outSnd, repeatFactor, bufferizeRank, testID, nil))
	b.Add(NewChecker(outRcv, want, tileElemEq, testID))

	mustRun(t, b)
}

func TestBufferizeStreamify_PassThrough(t *testing.T) {
	// [2, |2, 2]: repeat vazio reproduz o stream exatamente.
	input := blankElems(0, 1, 0, 2, 0, 1, 0, 2)
	roundTrip(t, input, 2, nil, input)
}

func TestBufferizeStreamify_Repeat2(t *testing.T) {
	// [2, 3] bufferizado em rank 2 e repetido 2x: a última iteração
	// fecha a dimensão adicionada (rank+1).
	input := blankElems(0, 0, 1, 0, 0, 2)
	want := blankElems(
		0, 0, 1, 0, 0, 2, // primeira passada
		0, 0, 1, 0, 0, 3, // última passada fecha o laço externo
	)
	roundTrip(t, input, 2, []int{2}, want)
}

func TestBufferizeStreamify_Repeat2Rank3(t *testing.T) {
	// [1, 3, 2, 2] => repeat [2] => [1, 3, 2, 2, 2] (o caso do teste de
	// referência 3D: o S3 externo vira S4 na última iteração).
	input := blankElems(
		0, 1, 0, 2,
		0, 1, 0, 2,
		0, 1, 0, 3,
	)
	want := blankElems(
		0, 1, 0, 2, 0, 1, 0, 3,
		0, 1, 0, 2, 0, 1, 0, 3,
		0, 1, 0, 2, 0, 1, 0, 4,
	)
	roundTrip(t, input, 2, []int{2}, want)
}

func TestDynStreamify_RefDrivenRepeat(t *testing.T) {
	// Um buffer [2] replicado por um ref de 4 elementos rank 1:
	// cada Val replica o buffer; o S1 final fecha e promove o fim de
	// buffer (1 + 1 = 2).
	b := sim.NewBuilder()
	genSnd, genRcv := sim.Unbounded[tileElem](b)
	buffSnd, buffRcv := sim.Bounded[stream.Elem[stream.Buffer[stream.Tile[float32]]]](b, 1)
	refSnd, refRcv := sim.Unbounded[stream.Elem[int]](b)
	outSnd, outRcv := sim.Unbounded[tileElem](b)

	// O grupo fecha com S2: o buffer chega ao DynStreamify com stop
	// residual 1, o caso normal de um stream bufferizado com laço externo.
	b.Add(NewGenerator(genSnd, blankElems(0, 2), testID))
	b.Add(NewBufferize(genRcv, buffSnd, 1, testID, nil))
	b.Add(NewGenerator(refSnd, []stream.Elem[int]{
		stream.Val(0), stream.Val(0), stream.Val(0), stream.ValStop(0, 1),
	}, testID))
	b.Add(NewDynStreamify(buffRcv, refRcv, outSnd, 1, 0, testID, nil))
	b.Add(NewChecker(outRcv, blankElems(
		0, 1,
		0, 1,
		0, 1,
		0, 2, // replay disparado pelo S1 do ref promove o fechamento
	), tileElemEq, testID))

	mustRun(t, b)
}

func TestBufferize_ResidualStopPropagates(t *testing.T) {
	// Grupo rank 1 fechado por S2: o buffer sai com stop residual 1.
	b := sim.NewBuilder()
	genSnd, genRcv := sim.Unbounded[tileElem](b)
	buffSnd, buffRcv := sim.Unbounded[stream.Elem[stream.Buffer[stream.Tile[float32]]]](b)

	b.Add(NewGenerator(genSnd, blankElems(0, 0, 2), testID))
	b.Add(NewBufferize(genRcv, buffSnd, 1, testID, nil))
	coll := newCollector(buffRcv)
	b.Add(coll)

	mustRun(t, b)
	if len(coll.got) != 1 {
		t.Fatalf("expected one buffer, got %d", len(coll.got))
	}
	if coll.got[0].Stop != 1 {
		t.Fatalf("expected residual stop 1, got %d", coll.got[0].Stop)
	}
	if n := coll.got[0].Data.Len(); n != 3 {
		t.Fatalf("expected 3 elements in the buffer, got %d", n)
	}
}
