// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mem

import (
	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// DynOffChipLoad repete a varredura completa de um OffChipLoad uma vez
// por elemento de um stream de referência, ajustando o stop token do
// último tile de cada varredura pelo nível do ref — assim uma carga de
// pesos pode ser expandida sobre um laço externo dinâmico.
type DynOffChipLoad[T stream.Scalar, R any] struct {
	ctx *sim.Ctx

	tensor        *Tensor[T]
	stride        []int
	outShapeTiled []int
	baseAddr      uint64
	addrOffset    uint64
	parDispatch   int

	ref     *sim.Receiver[stream.Elem[R]]
	addrSnd *sim.Sender[ParAddrs]
	respRcv *sim.Receiver[uint64]
	onChip  *sim.Sender[stream.Elem[stream.Tile[T]]]
	log     *events.Logger
}

// NewDynOffChipLoad monta o ator.
func NewDynOffChipLoad[T stream.Scalar, R any](
	tensor *Tensor[T],
	stride, outShapeTiled []int,
	baseAddr, addrOffset uint64,
	parDispatch int,
	ref *sim.Receiver[stream.Elem[R]],
	addrSnd *sim.Sender[ParAddrs],
	respRcv *sim.Receiver[uint64],
	onChip *sim.Sender[stream.Elem[stream.Tile[T]]],
	id uint32,
	log *events.Logger,
) *DynOffChipLoad[T, R] {
	l := &DynOffChipLoad[T, R]{
		ctx:    sim.NewCtx("DynOffChipLoad", id),
		tensor: tensor,
		stride: stride, outShapeTiled: outShapeTiled,
		baseAddr: baseAddr, addrOffset: addrOffset,
		parDispatch: parDispatch,
		ref:         ref, addrSnd: addrSnd, respRcv: respRcv, onChip: onChip,
		log: log,
	}
	ref.Attach(l.ctx)
	addrSnd.Attach(l.ctx)
	respRcv.Attach(l.ctx)
	onChip.Attach(l.ctx)
	return l
}

// Ctx implementa sim.Actor.
func (l *DynOffChipLoad[T, R]) Ctx() *sim.Ctx { return l.ctx }

// OnChipReqElems é o número de elementos pedidos on-chip por tile.
func (l *DynOffChipLoad[T, R]) OnChipReqElems() int {
	return l.tensor.TileRow * l.tensor.TileCol
}

// sweep faz uma varredura completa da forma de saída; refStop > 0
// promove o stop do último tile em refStop níveis.
func (l *DynOffChipLoad[T, R]) sweep(refStop stream.StopLevel) error {
	tm := l.ctx.Time
	totalTiles := 1
	for _, d := range l.outShapeTiled {
		totalTiles *= d
	}
	srcTiles := l.tensor.NumTiles()
	fullRank := stream.StopLevel(len(l.outShapeTiled))

	for flat := 0; flat < totalTiles; flat++ {
		multi := multiIndex(flat, l.outShapeTiled)
		tileIdx := viewTileIndex(multi, l.stride, srcTiles)
		addrs := tileAddrs(l.baseAddr, tileIdx, l.tensor.ShapeTiled, l.tensor.TileRow, l.tensor.TileCol, l.tensor.NByte, l.addrOffset)
		stop := stopLevelFor(multi, l.outShapeTiled)
		if stop == fullRank && refStop > 0 {
			stop += refStop
		}

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
		l.log.Log("DynOffChipLoad", l.ctx.ID(), sendTime, tm.Tick(), stop > 0)

		elem := stream.Elem[stream.Tile[T]]{Data: l.tensor.Tile(tileIdx), Stop: stop}
		if err := l.onChip.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
	}
	return nil
}

// Run dispara uma varredura por elemento do ref, até ele fechar.
func (l *DynOffChipLoad[T, R]) Run() error {
	for {
		msg, err := l.ref.Dequeue()
		if err != nil {
			return nil
		}
		if err := l.sweep(msg.Data.Stop); err != nil {
			return err
		}
	}
}
