// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// MakeSelector constrói o payload de seleção a partir dos índices
// escolhidos (a direção inversa de SelVec).
type MakeSelector[S any] func(indices []int, size int, fromMU bool) S

// EagerMerge é o dual do Parallelize sem seletor: escolhe o stream cujo
// próximo elemento tem o menor timestamp (empate pelo índice), drena um
// grupo de rank input_rank dele e emite o índice escolhido num stream
// de seleção paralelo. A regra do "mais cedo" modela a arbitragem do
// interconnect e é o que torna o merge reprodutível.
type EagerMerge[T any, S any] struct {
	ctx       *sim.Ctx
	ins       []*sim.Receiver[stream.Elem[T]]
	sel       *sim.Sender[stream.Elem[S]]
	out       *sim.Sender[stream.Elem[T]]
	inputRank stream.StopLevel
	makeSel   MakeSelector[S]
}

// NewEagerMerge monta o ator.
func NewEagerMerge[T any, S any](
	ins []*sim.Receiver[stream.Elem[T]],
	sel *sim.Sender[stream.Elem[S]],
	out *sim.Sender[stream.Elem[T]],
	inputRank stream.StopLevel,
	makeSel MakeSelector[S],
	id uint32,
) *EagerMerge[T, S] {
	m := &EagerMerge[T, S]{
		ctx: sim.NewCtx("EagerMerge", id),
		ins: ins, sel: sel, out: out,
		inputRank: inputRank,
		makeSel:   makeSel,
	}
	for _, in := range ins {
		in.Attach(m.ctx)
	}
	sel.Attach(m.ctx)
	out.Attach(m.ctx)
	return m
}

// Ctx implementa sim.Actor.
func (m *EagerMerge[T, S]) Ctx() *sim.Ctx { return m.ctx }

// Run arbitra até todas as entradas fecharem.
func (m *EagerMerge[T, S]) Run() error {
	tm := m.ctx.Time
	for {
		idx, msg, ok := sim.EarliestOf(m.ins)
		if !ok {
			return nil
		}
		tm.Advance(msg.Time)

		selElem := stream.Val(m.makeSel([]int{idx}, len(m.ins), false))
		if err := m.sel.Enqueue(tm.Tick(), selElem); err != nil {
			return err
		}

		for {
			got, err := m.ins[idx].Dequeue()
			if err != nil {
				return nil
			}
			elem := got.Data
			if err := m.out.Enqueue(tm.Tick(), elem); err != nil {
				return err
			}
			if !elem.IsStop() {
				if m.inputRank == 0 {
					break
				}
				tm.IncrCycles(1)
				continue
			}
			if elem.Stop == m.inputRank {
				break
			}
			if elem.Stop > m.inputRank {
				return fmt.Errorf("%w: stop %d > input rank %d", ErrStopAboveRank, elem.Stop, m.inputRank)
			}
			tm.IncrCycles(1)
		}
	}
}
