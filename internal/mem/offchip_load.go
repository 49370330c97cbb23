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

// OffChipLoad enumera os tiles da forma de saída em row-major, resolve
// cada um para um tile fonte via strides (stride 0 = view de repetição),
// despacha os endereços ao HBM em grupos de par_dispatch por ciclo,
// espera todas as respostas e então emite o tile no stream on-chip com
// o stop token da posição.
//
// Com o canal on-chip de profundidade 1 ou 2, isto modela double
// buffering. O binder não impõe essa profundidade: sem channel_depth (ou
// override por nó) ele usa sim.DefaultChannelDepth (1024).
type OffChipLoad[T stream.Scalar] struct {
	ctx *sim.Ctx

	tensor        *Tensor[T]
	stride        []int
	outShapeTiled []int
	baseAddr      uint64
	addrOffset    uint64
	parDispatch   int

	addrSnd *sim.Sender[ParAddrs]
	respRcv *sim.Receiver[uint64]
	onChip  *sim.Sender[stream.Elem[stream.Tile[T]]]
	log     *events.Logger
}

// NewOffChipLoad monta o ator. tensor carrega a geometria de tiling e,
// em modo funcional, os dados.
func NewOffChipLoad[T stream.Scalar](
	tensor *Tensor[T],
	stride, outShapeTiled []int,
	baseAddr, addrOffset uint64,
	parDispatch int,
	addrSnd *sim.Sender[ParAddrs],
	respRcv *sim.Receiver[uint64],
	onChip *sim.Sender[stream.Elem[stream.Tile[T]]],
	id uint32,
	log *events.Logger,
) (*OffChipLoad[T], error) {
	if len(stride) != len(outShapeTiled) {
		return nil, fmt.Errorf("mem: stride %v and output shape %v must have the same number of dimensions", stride, outShapeTiled)
	}
	l := &OffChipLoad[T]{
		ctx:    sim.NewCtx("OffChipLoad", id),
		tensor: tensor,
		stride: stride, outShapeTiled: outShapeTiled,
		baseAddr: baseAddr, addrOffset: addrOffset,
		parDispatch: parDispatch,
		addrSnd:     addrSnd, respRcv: respRcv, onChip: onChip,
		log: log,
	}
	addrSnd.Attach(l.ctx)
	respRcv.Attach(l.ctx)
	onChip.Attach(l.ctx)
	return l, nil
}

// Ctx implementa sim.Actor.
func (l *OffChipLoad[T]) Ctx() *sim.Ctx { return l.ctx }

// OnChipReqElems é o número de elementos pedidos on-chip por tile.
func (l *OffChipLoad[T]) OnChipReqElems() int {
	return l.tensor.TileRow * l.tensor.TileCol
}

// LoadedElems é o total de elementos movidos da DRAM nesta execução.
func (l *OffChipLoad[T]) LoadedElems() int {
	total := 1
	for _, d := range l.outShapeTiled {
		total *= d
	}
	return total * l.tensor.TileRow * l.tensor.TileCol
}

// dispatch envia os endereços em grupos de par_dispatch, um grupo por
// ciclo, e espera uma resposta por endereço.
func (l *OffChipLoad[T]) dispatch(addrs []uint64) error {
	tm := l.ctx.Time
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
	return nil
}

// Run percorre a forma de saída e encerra.
func (l *OffChipLoad[T]) Run() error {
	tm := l.ctx.Time
	totalTiles := 1
	for _, d := range l.outShapeTiled {
		totalTiles *= d
	}
	srcTiles := l.tensor.NumTiles()

	for flat := 0; flat < totalTiles; flat++ {
		multi := multiIndex(flat, l.outShapeTiled)
		tileIdx := viewTileIndex(multi, l.stride, srcTiles)
		addrs := tileAddrs(l.baseAddr, tileIdx, l.tensor.ShapeTiled, l.tensor.TileRow, l.tensor.TileCol, l.tensor.NByte, l.addrOffset)
		stop := stopLevelFor(multi, l.outShapeTiled)

		sendTime := tm.Tick()
		if err := l.dispatch(addrs); err != nil {
			return err
		}
		l.log.Log("OffChipLoad", l.ctx.ID(), sendTime, tm.Tick(), stop > 0)

		elem := stream.Elem[stream.Tile[T]]{Data: l.tensor.Tile(tileIdx), Stop: stop}
		if err := l.onChip.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
	}
	return nil
}
