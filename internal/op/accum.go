// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// AccumFunc dobra um elemento no acumulador. O tipo do acumulador pode
// divergir do da entrada (signal_req_all_read dobra tiles f32 num
// sinal u64).
type AccumFunc[T, O stream.Scalar] func(in stream.Tile[T], acc stream.Tile[O], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[O])

// Accum é o fold unário: mesma estrutura do BinaryMapAccum, com uma
// entrada só. Usado por retile_row/retile_col e pelas reduções simples.
type Accum[T, O stream.Scalar] struct {
	ctx         *sim.Ctx
	in          *sim.Receiver[stream.Elem[stream.Tile[T]]]
	out         *sim.Sender[stream.Elem[stream.Tile[O]]]
	fn          AccumFunc[T, O]
	initAccum   InitAccumFunc[O]
	rank        stream.StopLevel
	computeBW   uint64
	writeBackMU bool
	log         *events.Logger
}

// NewAccum monta o ator.
func NewAccum[T, O stream.Scalar](
	in *sim.Receiver[stream.Elem[stream.Tile[T]]],
	out *sim.Sender[stream.Elem[stream.Tile[O]]],
	fn AccumFunc[T, O],
	initAccum InitAccumFunc[O],
	rank stream.StopLevel,
	computeBW uint64,
	writeBackMU bool,
	id uint32,
	log *events.Logger,
) *Accum[T, O] {
	a := &Accum[T, O]{
		ctx: sim.NewCtx("Accum", id),
		in:  in, out: out,
		fn: fn, initAccum: initAccum, rank: rank,
		computeBW: computeBW, writeBackMU: writeBackMU,
		log: log,
	}
	in.Attach(a.ctx)
	out.Attach(a.ctx)
	return a
}

// Ctx implementa sim.Actor.
func (a *Accum[T, O]) Ctx() *sim.Ctx { return a.ctx }

func (a *Accum[T, O]) step(in stream.Tile[T], acc *stream.Tile[O], emit bool) (stream.Tile[O], error) {
	tm := a.ctx.Time
	load := loadCycles(in)
	compCycles, outTile := a.fn(in, *acc, a.computeBW, a.writeBackMU)

	var store uint64
	if emit {
		*acc = a.initAccum()
		if a.writeBackMU {
			store = divCeil(uint64((*acc).SizeInBytes()), mem.PMUBandwidth)
		}
	} else {
		*acc = outTile
	}

	roofline := max3(load, compCycles, store)
	tm.IncrCycles(roofline)

	if _, err := a.in.Dequeue(); err != nil {
		return outTile, err
	}
	if emit {
		a.log.Log("Accum", a.ctx.ID(), tm.Tick()-roofline, tm.Tick(), true)
	}
	return outTile, nil
}

// Run processa até a entrada fechar.
func (a *Accum[T, O]) Run() error {
	tm := a.ctx.Time
	acc := a.initAccum()
	for {
		e, err := a.in.PeekNext()
		if err != nil {
			return nil
		}
		tile, stop := e.Data.Data, e.Data.Stop

		switch {
		case stop < a.rank:
			if _, err := a.step(tile, &acc, false); err != nil {
				return err
			}
		case stop == a.rank:
			outTile, err := a.step(tile, &acc, true)
			if err != nil {
				return err
			}
			if err := a.out.Enqueue(tm.Tick(), stream.Val(outTile)); err != nil {
				return err
			}
		default:
			outTile, err := a.step(tile, &acc, true)
			if err != nil {
				return err
			}
			if err := a.out.Enqueue(tm.Tick(), stream.ValStop(outTile, stop-a.rank)); err != nil {
				return err
			}
		}
	}
}
