// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Flatten colapsa os níveis (min, max] num único rank: stops nesse
// intervalo viram min, níveis acima descem (max - min). Nível 0
// resultante é emitido como valor puro.
type Flatten[T any] struct {
	ctx     *sim.Ctx
	in      *sim.Receiver[stream.Elem[T]]
	out     *sim.Sender[stream.Elem[T]]
	minRank stream.StopLevel
	maxRank stream.StopLevel
}

// NewFlatten monta o ator; exige min < max.
func NewFlatten[T any](
	in *sim.Receiver[stream.Elem[T]],
	out *sim.Sender[stream.Elem[T]],
	minRank, maxRank stream.StopLevel,
	id uint32,
) (*Flatten[T], error) {
	if minRank >= maxRank {
		return nil, fmt.Errorf("flatten: min rank %d must be below max rank %d", minRank, maxRank)
	}
	f := &Flatten[T]{ctx: sim.NewCtx("Flatten", id), in: in, out: out, minRank: minRank, maxRank: maxRank}
	in.Attach(f.ctx)
	out.Attach(f.ctx)
	return f, nil
}

// Ctx implementa sim.Actor.
func (f *Flatten[T]) Ctx() *sim.Ctx { return f.ctx }

// Run reescreve níveis até a entrada fechar.
func (f *Flatten[T]) Run() error {
	tm := f.ctx.Time
	for {
		msg, err := f.in.Dequeue()
		if err != nil {
			return nil
		}
		elem := msg.Data
		if elem.IsStop() {
			switch s := elem.Stop; {
			case s <= f.minRank:
				// inalterado
			case s <= f.maxRank:
				elem.Stop = f.minRank
			default:
				elem.Stop = s - (f.maxRank - f.minRank)
			}
		}
		if err := f.out.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
	}
}
