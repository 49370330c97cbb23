// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// ExpandRef repete cada elemento da entrada uma vez por elemento do
// stream de referência, até o ref fechar um grupo de nível >=
// expand_rank — aí avança para o próximo elemento da entrada. Os stops
// emitidos espelham os do ref.
type ExpandRef[T any, R any] struct {
	ctx        *sim.Ctx
	in         *sim.Receiver[stream.Elem[T]]
	ref        *sim.Receiver[stream.Elem[R]]
	out        *sim.Sender[stream.Elem[T]]
	expandRank stream.StopLevel
}

// NewExpandRef monta o ator.
func NewExpandRef[T any, R any](
	in *sim.Receiver[stream.Elem[T]],
	ref *sim.Receiver[stream.Elem[R]],
	out *sim.Sender[stream.Elem[T]],
	expandRank stream.StopLevel,
	id uint32,
) *ExpandRef[T, R] {
	e := &ExpandRef[T, R]{
		ctx: sim.NewCtx("ExpandRef", id),
		in:  in, ref: ref, out: out,
		expandRank: expandRank,
	}
	in.Attach(e.ctx)
	ref.Attach(e.ctx)
	out.Attach(e.ctx)
	return e
}

// Ctx implementa sim.Actor.
func (e *ExpandRef[T, R]) Ctx() *sim.Ctx { return e.ctx }

// Run expande até a entrada fechar.
func (e *ExpandRef[T, R]) Run() error {
	tm := e.ctx.Time
	for {
		msg, err := e.in.PeekNext()
		if err != nil {
			return nil
		}
		elem := msg.Data

		if !elem.IsStop() {
			// Entrada rank 0: o ref também deve ser rank 0.
			if e.expandRank != 1 {
				return fmt.Errorf("expandref: rank-0 input requires expand rank 1, got %d", e.expandRank)
			}
			for {
				refMsg, err := e.ref.Dequeue()
				if err != nil {
					if _, err := e.in.Dequeue(); err != nil {
						return nil
					}
					return nil
				}
				if refMsg.Data.IsStop() {
					return fmt.Errorf("expandref: unexpected stop S(%d) in reference stream for a rank-0 input", refMsg.Data.Stop)
				}
				if err := e.out.Enqueue(tm.Tick(), stream.Val(elem.Data)); err != nil {
					return err
				}
			}
		}

		for {
			refMsg, err := e.ref.Dequeue()
			if err != nil {
				return fmt.Errorf("expandref: reference stream closed before the input group ended")
			}
			refElem := refMsg.Data
			if !refElem.IsStop() {
				if err := e.out.Enqueue(tm.Tick(), stream.Val(elem.Data)); err != nil {
					return err
				}
				continue
			}
			if err := e.out.Enqueue(tm.Tick(), stream.ValStop(elem.Data, refElem.Stop)); err != nil {
				return err
			}
			if refElem.Stop >= e.expandRank {
				if _, err := e.in.Dequeue(); err != nil {
					return err
				}
				break
			}
		}
	}
}
