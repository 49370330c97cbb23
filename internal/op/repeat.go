// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// RepeatStatic replica cada elemento repeat_factor vezes, adicionando
// uma dimensão interna: as cópias saem como valores, a última como
// ValStop(s+1) (ou ValStop(1) para entrada sem stop), espaçadas um
// ciclo entre si.
type RepeatStatic[T any] struct {
	ctx          *sim.Ctx
	in           *sim.Receiver[stream.Elem[T]]
	out          *sim.Sender[stream.Elem[T]]
	repeatFactor int
}

// NewRepeatStatic monta o ator.
func NewRepeatStatic[T any](
	in *sim.Receiver[stream.Elem[T]],
	out *sim.Sender[stream.Elem[T]],
	repeatFactor int,
	id uint32,
) *RepeatStatic[T] {
	r := &RepeatStatic[T]{ctx: sim.NewCtx("RepeatStatic", id), in: in, out: out, repeatFactor: repeatFactor}
	in.Attach(r.ctx)
	out.Attach(r.ctx)
	return r
}

// Ctx implementa sim.Actor.
func (r *RepeatStatic[T]) Ctx() *sim.Ctx { return r.ctx }

// Run replica até a entrada fechar.
func (r *RepeatStatic[T]) Run() error {
	tm := r.ctx.Time
	for {
		msg, err := r.in.PeekNext()
		if err != nil {
			return nil
		}
		elem := msg.Data
		for i := 0; i < r.repeatFactor-1; i++ {
			if err := r.out.Enqueue(tm.Tick()+sim.Cycle(i), stream.Val(elem.Data)); err != nil {
				return err
			}
		}
		if err := r.out.Enqueue(tm.Tick()+sim.Cycle(r.repeatFactor-1), stream.ValStop(elem.Data, elem.Stop+1)); err != nil {
			return err
		}
		tm.IncrCycles(sim.Cycle(r.repeatFactor))
		if _, err := r.in.Dequeue(); err != nil {
			return err
		}
	}
}
