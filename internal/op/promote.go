// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Promote insere uma dimensão no rank promote_rank: valores viram
// ValStop(1) quando promote_rank == 0, e stops de nível >= promote_rank
// sobem um nível.
type Promote[T any] struct {
	ctx         *sim.Ctx
	in          *sim.Receiver[stream.Elem[T]]
	out         *sim.Sender[stream.Elem[T]]
	promoteRank stream.StopLevel
}

// NewPromote monta o ator.
func NewPromote[T any](
	in *sim.Receiver[stream.Elem[T]],
	out *sim.Sender[stream.Elem[T]],
	promoteRank stream.StopLevel,
	id uint32,
) *Promote[T] {
	p := &Promote[T]{ctx: sim.NewCtx("Promote", id), in: in, out: out, promoteRank: promoteRank}
	in.Attach(p.ctx)
	out.Attach(p.ctx)
	return p
}

// Ctx implementa sim.Actor.
func (p *Promote[T]) Ctx() *sim.Ctx { return p.ctx }

// Run reescreve níveis até a entrada fechar.
func (p *Promote[T]) Run() error {
	tm := p.ctx.Time
	for {
		msg, err := p.in.Dequeue()
		if err != nil {
			return nil
		}
		elem := msg.Data
		if !elem.IsStop() {
			if p.promoteRank == 0 {
				elem.Stop = 1
			}
		} else if p.promoteRank <= elem.Stop {
			elem.Stop++
		}
		if err := p.out.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
	}
}
