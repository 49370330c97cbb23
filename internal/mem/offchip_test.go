// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mem

import (
	"testing"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// tileSink drena tiles guardando stops e timestamps.
type tileSink struct {
	ctx  *sim.Ctx
	in   *sim.Receiver[stream.Elem[stream.Tile[float32]]]
	got  []stream.Elem[stream.Tile[float32]]
	when []sim.Cycle
}

func newTileSink(in *sim.Receiver[stream.Elem[stream.Tile[float32]]]) *tileSink {
	s := &tileSink{ctx: sim.NewCtx("sink", 99), in: in}
	in.Attach(s.ctx)
	return s
}

func (s *tileSink) Ctx() *sim.Ctx { return s.ctx }
func (s *tileSink) Run() error {
	for {
		msg, err := s.in.Dequeue()
		if err != nil {
			return nil
		}
		s.got = append(s.got, msg.Data)
		s.when = append(s.when, msg.Time)
	}
}

func testHBM() HBMConfig {
	return HBMConfig{
		AddrOffset:   64,
		ChannelNum:   8,
		Latency:      2,
		InitInterval: 2,
		Outstanding:  1,
		StartUpTime:  14,
	}
}

func TestOffChipLoad_EnumerationAndStops(t *testing.T) {
	cfg := testHBM()
	b := sim.NewBuilder()
	hbm := NewHBMContext(cfg)

	tensor, err := NewTensor[float32]([]int{2, 2}, 16, 16, 4, nil, nil)
	if err != nil {
		t.Fatalf("NewTensor error: %v", err)
	}

	addrSnd, addrRcv := sim.Unbounded[ParAddrs](b)
	respSnd, respRcv := sim.Unbounded[uint64](b)
	hbm.AddReader(ReadBundle{Addr: addrRcv, Resp: respSnd})
	onChipSnd, onChipRcv := sim.Bounded[stream.Elem[stream.Tile[float32]]](b, 1)

	load, err := NewOffChipLoad(tensor, []int{2, 1}, []int{2, 2}, 0, cfg.AddrOffset, 8, addrSnd, respRcv, onChipSnd, 1, nil)
	if err != nil {
		t.Fatalf("NewOffChipLoad error: %v", err)
	}
	sink := newTileSink(onChipRcv)

	b.Add(load)
	b.Add(hbm)
	b.Add(sink)
	elapsed, err := b.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if elapsed == 0 {
		t.Fatal("expected simulated time to advance")
	}

	if len(sink.got) != 4 {
		t.Fatalf("expected 4 tiles, got %d", len(sink.got))
	}
	wantStops := []stream.StopLevel{0, 1, 0, 2}
	for i, elem := range sink.got {
		if elem.Stop != wantStops[i] {
			t.Fatalf("tile %d: expected stop %d, got %d", i, wantStops[i], elem.Stop)
		}
		if !elem.Data.ReadFromMU() {
			t.Fatalf("tile %d: off-chip tiles must be marked read_from_mu", i)
		}
	}
	// Timestamps não decrescentes no canal on-chip.
	for i := 1; i < len(sink.when); i++ {
		if sink.when[i] < sink.when[i-1] {
			t.Fatalf("on-chip timestamps must be monotone, got %v", sink.when)
		}
	}
}

func TestOffChipLoad_StrideZeroRepeatsView(t *testing.T) {
	cfg := testHBM()
	b := sim.NewBuilder()
	hbm := NewHBMContext(cfg)

	// Tensor funcional 2x2 em um único tile: a view [2,1,1] com stride
	// [0,1,1] o repete duas vezes.
	tensor, err := NewTensor([]int{1, 1}, 2, 2, 4, []int{2, 2}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("NewTensor error: %v", err)
	}

	addrSnd, addrRcv := sim.Unbounded[ParAddrs](b)
	respSnd, respRcv := sim.Unbounded[uint64](b)
	hbm.AddReader(ReadBundle{Addr: addrRcv, Resp: respSnd})
	onChipSnd, onChipRcv := sim.Bounded[stream.Elem[stream.Tile[float32]]](b, 1)

	load, err := NewOffChipLoad(tensor, []int{0, 1, 1}, []int{2, 1, 1}, 0, cfg.AddrOffset, 8, addrSnd, respRcv, onChipSnd, 1, nil)
	if err != nil {
		t.Fatalf("NewOffChipLoad error: %v", err)
	}
	sink := newTileSink(onChipRcv)

	b.Add(load)
	b.Add(hbm)
	b.Add(sink)
	if _, err := b.Run(); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(sink.got) != 2 {
		t.Fatalf("expected 2 tiles, got %d", len(sink.got))
	}
	for i, elem := range sink.got {
		if !elem.Data.Functional() {
			t.Fatalf("tile %d: expected functional data", i)
		}
		if elem.Data.At(1, 1) != 4 {
			t.Fatalf("tile %d: expected the same source tile, got %v", i, elem.Data.Data)
		}
	}
	// Dimensões internas de tamanho 1 fecham junto: ambos carregam stop.
	if sink.got[0].Stop != 2 || sink.got[1].Stop != 3 {
		t.Fatalf("expected stops [2 3], got [%d %d]", sink.got[0].Stop, sink.got[1].Stop)
	}
}

func TestMetadataGen_EmitsStructuredStream(t *testing.T) {
	b := sim.NewBuilder()
	snd, rcv := sim.Unbounded[stream.Elem[stream.Tile[uint64]]](b)
	gen := NewMetadataGen([]int{2, 2}, []uint64{7, 8, 9, 10}, snd, 5)

	coll := &u64Sink{ctx: sim.NewCtx("sink", 6)}
	coll.in = rcv
	rcv.Attach(coll.ctx)

	b.Add(gen)
	b.Add(coll)
	if _, err := b.Run(); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	wantStops := []stream.StopLevel{0, 1, 0, 2}
	if len(coll.got) != 4 {
		t.Fatalf("expected 4 elements, got %d", len(coll.got))
	}
	for i, elem := range coll.got {
		if elem.Stop != wantStops[i] {
			t.Fatalf("element %d: expected stop %d, got %d", i, wantStops[i], elem.Stop)
		}
		if elem.Data.At(0, 0) != uint64(7+i) {
			t.Fatalf("element %d: expected %d, got %d", i, 7+i, elem.Data.At(0, 0))
		}
	}
}

type u64Sink struct {
	ctx *sim.Ctx
	in  *sim.Receiver[stream.Elem[stream.Tile[uint64]]]
	got []stream.Elem[stream.Tile[uint64]]
}

func (s *u64Sink) Ctx() *sim.Ctx { return s.ctx }
func (s *u64Sink) Run() error {
	for {
		msg, err := s.in.Dequeue()
		if err != nil {
			return nil
		}
		s.got = append(s.got, msg.Data)
	}
}
