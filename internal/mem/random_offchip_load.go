// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mem

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// RandomOffChipLoad serve leituras cujo índice de tile chega por um
// stream de endereços (de ExpertAddrGen ou CacheReadAddrGen) em vez de
// uma enumeração fixa. O stop token do endereço passa para o tile lido.
type RandomOffChipLoad[T stream.Scalar] struct {
	ctx *sim.Ctx

	tensor      *Tensor[T]
	baseAddr    uint64
	addrOffset  uint64
	parDispatch int

	addrSnd *sim.Sender[ParAddrs]
	respRcv *sim.Receiver[uint64]
	raddr   *sim.Receiver[stream.Elem[stream.Tile[uint64]]]
	rdata   *sim.Sender[stream.Elem[stream.Tile[T]]]
	log     *events.Logger
}

// NewRandomOffChipLoad monta o ator.
func NewRandomOffChipLoad[T stream.Scalar](
	tensor *Tensor[T],
	baseAddr, addrOffset uint64,
	parDispatch int,
	addrSnd *sim.Sender[ParAddrs],
	respRcv *sim.Receiver[uint64],
	raddr *sim.Receiver[stream.Elem[stream.Tile[uint64]]],
	rdata *sim.Sender[stream.Elem[stream.Tile[T]]],
	id uint32,
	log *events.Logger,
) *RandomOffChipLoad[T] {
	l := &RandomOffChipLoad[T]{
		ctx:    sim.NewCtx("RandomOffChipLoad", id),
		tensor: tensor,
		baseAddr: baseAddr, addrOffset: addrOffset,
		parDispatch: parDispatch,
		addrSnd:     addrSnd, respRcv: respRcv,
		raddr: raddr, rdata: rdata,
		log: log,
	}
	addrSnd.Attach(l.ctx)
	respRcv.Attach(l.ctx)
	raddr.Attach(l.ctx)
	rdata.Attach(l.ctx)
	return l
}

// Ctx implementa sim.Actor.
func (l *RandomOffChipLoad[T]) Ctx() *sim.Ctx { return l.ctx }

func (l *RandomOffChipLoad[T]) fetch(tileIdx int) error {
	tm := l.ctx.Time
	addrs := tileAddrs(l.baseAddr, tileIdx, l.tensor.ShapeTiled, l.tensor.TileRow, l.tensor.TileCol, l.tensor.NByte, l.addrOffset)
	sendTime := tm.Tick()
	for i := 0; i < len(addrs); i += l.parDispatch {
		end := i + l.parDispatch
		if end > len(addrs) {
			end = len(addrs)
		}
		chunk := ParAddrs(append([]uint64{}, addrs[i:end]...))
		if err := l.addrSnd.Enqueue(sendTime+sim.Cycle(i/l.parDispatch), chunk); err != nil {
			return err
		}
	}
	for range addrs {
		if _, err := l.respRcv.Dequeue(); err != nil {
			return err
		}
	}
	l.log.Log("RandomOffChipLoad", l.ctx.ID(), sendTime, tm.Tick(), false)
	return nil
}

func (l *RandomOffChipLoad[T]) tileFor(idx uint64) stream.Tile[T] {
	if int(idx) < l.tensor.NumTiles() {
		return l.tensor.Tile(int(idx))
	}
	return stream.BlankTile[T](l.tensor.TileRow, l.tensor.TileCol, l.tensor.NByte, true)
}

// Run serve requisições até o stream de endereços fechar.
func (l *RandomOffChipLoad[T]) Run() error {
	tm := l.ctx.Time
	for {
		msg, err := l.raddr.Dequeue()
		if err != nil {
			return nil
		}
		addrTile := msg.Data.Data
		if !addrTile.Functional() {
			return fmt.Errorf("mem: random load address tile must carry a value")
		}
		tileIdx := addrTile.At(0, 0)
		if err := l.fetch(int(tileIdx)); err != nil {
			return err
		}
		elem := stream.Elem[stream.Tile[T]]{Data: l.tileFor(tileIdx), Stop: msg.Data.Stop}
		if err := l.rdata.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
	}
}
