// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// RetileStreamify fatia cada tile em tiles de uma linha (ou uma coluna,
// com split_row falso), propagando o offset de linhas válidas como flag
// de padding por fatia. Com filter_mask, a emissão para na marca de
// linhas válidas.
type RetileStreamify[T stream.Scalar] struct {
	ctx        *sim.Ctx
	in         *sim.Receiver[stream.Elem[stream.Tile[T]]]
	out        *sim.Sender[stream.Elem[stream.Tile[T]]]
	splitRow   bool
	filterMask bool
}

// NewRetileStreamify monta o ator.
func NewRetileStreamify[T stream.Scalar](
	in *sim.Receiver[stream.Elem[stream.Tile[T]]],
	out *sim.Sender[stream.Elem[stream.Tile[T]]],
	splitRow, filterMask bool,
	id uint32,
) *RetileStreamify[T] {
	r := &RetileStreamify[T]{
		ctx: sim.NewCtx("RetileStreamify", id),
		in:  in, out: out,
		splitRow: splitRow, filterMask: filterMask,
	}
	in.Attach(r.ctx)
	out.Attach(r.ctx)
	return r
}

// Ctx implementa sim.Actor.
func (r *RetileStreamify[T]) Ctx() *sim.Ctx { return r.ctx }

// slice extrai a fatia idx como um tile [1, N].
func (r *RetileStreamify[T]) slice(data stream.Tile[T], idx int) stream.Tile[T] {
	sliceOffset := 0
	if idx+1 <= data.Offset {
		sliceOffset = 1
	}
	if !data.Functional() {
		width := data.Cols
		if !r.splitRow {
			width = data.Rows
		}
		return stream.BlankTilePadded[T](1, width, data.BytesPerElem, data.FromMU, sliceOffset)
	}
	if r.splitRow {
		row := make([]T, data.Cols)
		copy(row, data.Data[idx*data.Cols:(idx+1)*data.Cols])
		return stream.NewTilePadded(1, data.Cols, row, data.BytesPerElem, data.FromMU, sliceOffset)
	}
	col := make([]T, data.Rows)
	for i := 0; i < data.Rows; i++ {
		col[i] = data.At(i, idx)
	}
	return stream.NewTilePadded(1, data.Rows, col, data.BytesPerElem, data.FromMU, sliceOffset)
}

func (r *RetileStreamify[T]) retile(data stream.Tile[T], stop stream.StopLevel) error {
	tm := r.ctx.Time
	count := data.Rows
	if !r.splitRow {
		count = data.Cols
	}
	for idx := 0; idx < count; idx++ {
		outTile := r.slice(data, idx)
		atMask := r.filterMask && idx+1 == data.Offset
		elem := stream.Val(outTile)
		if stop > 0 && (atMask || idx+1 == count) {
			elem = stream.ValStop(outTile, stop)
		}
		if err := r.out.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
		if atMask {
			return nil
		}
	}
	return nil
}

// Run fatia até a entrada fechar.
func (r *RetileStreamify[T]) Run() error {
	for {
		msg, err := r.in.Dequeue()
		if err != nil {
			return nil
		}
		if err := r.retile(msg.Data.Data, msg.Data.Stop); err != nil {
			return err
		}
	}
}

// ExpertAddrGen converte um seletor one-hot em num_tile_per_expert
// endereços de tile 1x1, cada grupo fechando em nível 1 e o último em
// nível 2. Aceita só streams de seletor rank 0.
type ExpertAddrGen[S stream.SelectorPayload[S]] struct {
	ctx              *sim.Ctx
	in               *sim.Receiver[stream.Elem[S]]
	out              *sim.Sender[stream.Elem[stream.Tile[uint64]]]
	numTilePerExpert uint64
	expertAddrBase   uint64
}

// NewExpertAddrGen monta o ator.
func NewExpertAddrGen[S stream.SelectorPayload[S]](
	in *sim.Receiver[stream.Elem[S]],
	out *sim.Sender[stream.Elem[stream.Tile[uint64]]],
	numTilePerExpert, expertAddrBase uint64,
	id uint32,
) *ExpertAddrGen[S] {
	g := &ExpertAddrGen[S]{
		ctx: sim.NewCtx("ExpertAddrGen", id),
		in:  in, out: out,
		numTilePerExpert: numTilePerExpert,
		expertAddrBase:   expertAddrBase,
	}
	in.Attach(g.ctx)
	out.Attach(g.ctx)
	return g
}

// Ctx implementa sim.Actor.
func (g *ExpertAddrGen[S]) Ctx() *sim.Ctx { return g.ctx }

// Run gera endereços até a entrada fechar.
func (g *ExpertAddrGen[S]) Run() error {
	tm := g.ctx.Time
	for {
		msg, err := g.in.Dequeue()
		if err != nil {
			return nil
		}
		if msg.Data.IsStop() {
			return fmt.Errorf("expertaddrgen: selector stream must be rank 0, got stop S(%d)", msg.Data.Stop)
		}
		selVec := msg.Data.Data.SelVec()
		if len(selVec) != 1 {
			return fmt.Errorf("expertaddrgen: expected a one-hot selector, got %d experts", len(selVec))
		}
		expertAddr := g.expertAddrBase + uint64(selVec[0])*g.numTilePerExpert
		for i := uint64(0); i < g.numTilePerExpert; i++ {
			level := stream.StopLevel(1)
			if i == g.numTilePerExpert-1 {
				level = 2
			}
			addrTile := stream.NewTile(1, 1, []uint64{expertAddr + i}, 8, false)
			if err := g.out.Enqueue(tm.Tick(), stream.ValStop(addrTile, level)); err != nil {
				return err
			}
		}
	}
}

// CacheReadAddrGen expande pares (idx, seq_len) em seq_len endereços de
// leitura de cache idx*offset_per_idx + i; o último endereço fecha em
// nível idx_stop + 1 (ou 1 para pares sem stop).
type CacheReadAddrGen struct {
	ctx          *sim.Ctx
	idx          *sim.Receiver[stream.Elem[stream.Tile[uint64]]]
	seqLen       *sim.Receiver[stream.Elem[stream.Tile[uint64]]]
	out          *sim.Sender[stream.Elem[stream.Tile[uint64]]]
	offsetPerIdx uint64
}

// NewCacheReadAddrGen monta o ator.
func NewCacheReadAddrGen(
	idx, seqLen *sim.Receiver[stream.Elem[stream.Tile[uint64]]],
	out *sim.Sender[stream.Elem[stream.Tile[uint64]]],
	offsetPerIdx uint64,
	id uint32,
) *CacheReadAddrGen {
	g := &CacheReadAddrGen{
		ctx: sim.NewCtx("CacheReadAddrGen", id),
		idx: idx, seqLen: seqLen, out: out,
		offsetPerIdx: offsetPerIdx,
	}
	idx.Attach(g.ctx)
	seqLen.Attach(g.ctx)
	out.Attach(g.ctx)
	return g
}

// Ctx implementa sim.Actor.
func (g *CacheReadAddrGen) Ctx() *sim.Ctx { return g.ctx }

// Run expande pares até ambas as entradas fecharem.
func (g *CacheReadAddrGen) Run() error {
	tm := g.ctx.Time
	for {
		idxMsg, err1 := g.idx.Dequeue()
		lenMsg, err2 := g.seqLen.Dequeue()
		switch {
		case err1 != nil && err2 != nil:
			return nil
		case err1 != nil || err2 != nil:
			return ErrEarlyClose
		}
		if idxMsg.Data.Stop != lenMsg.Data.Stop {
			return ErrStopMismatch
		}
		idxVal := idxMsg.Data.Data.At(0, 0)
		seqLenVal := lenMsg.Data.Data.At(0, 0)

		finalStop := stream.StopLevel(1)
		if idxMsg.Data.IsStop() {
			finalStop = idxMsg.Data.Stop + 1
		}

		start := tm.Tick()
		for i := uint64(0); i < seqLenVal; i++ {
			addrTile := stream.NewTile(1, 1, []uint64{idxVal*g.offsetPerIdx + i}, 8, false)
			elem := stream.Val(addrTile)
			if i == seqLenVal-1 {
				elem = stream.ValStop(addrTile, finalStop)
			}
			if err := g.out.Enqueue(start+i, elem); err != nil {
				return err
			}
		}
	}
}

// FilterLastTile emite, para cada seq_len, (seq_len-1) seletores
// [false,true] e um seletor final [true,false] fechando em stop+1 — a
// máscara que encaminha só o último tile de cada sequência.
type FilterLastTile struct {
	ctx    *sim.Ctx
	seqLen *sim.Receiver[stream.Elem[stream.Tile[uint64]]]
	out    *sim.Sender[stream.Elem[stream.MultiHot]]
}

// NewFilterLastTile monta o ator.
func NewFilterLastTile(
	seqLen *sim.Receiver[stream.Elem[stream.Tile[uint64]]],
	out *sim.Sender[stream.Elem[stream.MultiHot]],
	id uint32,
) *FilterLastTile {
	f := &FilterLastTile{ctx: sim.NewCtx("FilterLastTile", id), seqLen: seqLen, out: out}
	seqLen.Attach(f.ctx)
	out.Attach(f.ctx)
	return f
}

// Ctx implementa sim.Actor.
func (f *FilterLastTile) Ctx() *sim.Ctx { return f.ctx }

// Run emite máscaras até a entrada fechar.
func (f *FilterLastTile) Run() error {
	tm := f.ctx.Time
	for {
		msg, err := f.seqLen.Dequeue()
		if err != nil {
			return nil
		}
		seqLenVal := msg.Data.Data.At(0, 0)
		finalStop := msg.Data.Stop + 1

		for i := uint64(0); i+1 < seqLenVal; i++ {
			sel := stream.NewMultiHot([]bool{false, true}, false)
			if err := f.out.Enqueue(tm.Tick(), stream.Val(sel)); err != nil {
				return err
			}
		}
		last := stream.NewMultiHot([]bool{true, false}, false)
		if err := f.out.Enqueue(tm.Tick(), stream.ValStop(last, finalStop)); err != nil {
			return err
		}
	}
}
