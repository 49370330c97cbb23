// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Streamify lê buffers e replica seus elementos como stream. Cada fator
// de repeat_factor, lido da direita para a esquerda, adiciona um laço
// externo: na última iteração do fator i, o stop de fim de buffer
// (nível == rank) sobe para rank + 1 + i, mais o stop residual que o
// próprio buffer carregava. repeat_factor vazio é um pass-through.
type Streamify[T any] struct {
	ctx          *sim.Ctx
	in           *sim.Receiver[stream.Elem[stream.Buffer[T]]]
	out          *sim.Sender[stream.Elem[T]]
	repeatFactor []int
	rank         stream.StopLevel
	log          *events.Logger
}

// NewStreamify monta o ator.
func NewStreamify[T any](
	in *sim.Receiver[stream.Elem[stream.Buffer[T]]],
	out *sim.Sender[stream.Elem[T]],
	repeatFactor []int,
	rank stream.StopLevel,
	id uint32,
	log *events.Logger,
) *Streamify[T] {
	s := &Streamify[T]{
		ctx: sim.NewCtx("Streamify", id),
		in:  in, out: out,
		repeatFactor: repeatFactor,
		rank:         rank,
		log:          log,
	}
	in.Attach(s.ctx)
	out.Attach(s.ctx)
	return s
}

// Ctx implementa sim.Actor.
func (s *Streamify[T]) Ctx() *sim.Ctx { return s.ctx }

// emit envia um elemento e cobra um ciclo.
func (s *Streamify[T]) emit(elem stream.Elem[T]) error {
	tm := s.ctx.Time
	if err := s.out.Enqueue(tm.Tick(), elem); err != nil {
		return err
	}
	tm.IncrCycles(1)
	return nil
}

// replay percorre o buffer uma vez, reescrevendo o stop de fim de
// buffer para raise quando raise > 0.
func (s *Streamify[T]) replay(buf stream.Buffer[T], raise stream.StopLevel) error {
	for _, elem := range buf.ElemSeq() {
		if elem.IsStop() && elem.Stop == s.rank && raise > 0 {
			elem.Stop = raise
		}
		if err := s.emit(elem); err != nil {
			return err
		}
	}
	return nil
}

// Run processa buffers até a entrada fechar.
func (s *Streamify[T]) Run() error {
	tm := s.ctx.Time
	for {
		msg, err := s.in.PeekNext()
		if err != nil {
			return nil
		}
		start := tm.Tick()
		buf := msg.Data.Data
		outerStop := msg.Data.Stop

		if len(s.repeatFactor) == 0 {
			raise := stream.StopLevel(0)
			if outerStop > 0 {
				raise = s.rank + outerStop
			}
			if err := s.replay(buf, raise); err != nil {
				return err
			}
		} else {
			for i := 0; i < len(s.repeatFactor); i++ {
				factor := s.repeatFactor[len(s.repeatFactor)-1-i]
				for rep := 0; rep < factor; rep++ {
					raise := stream.StopLevel(0)
					if rep == factor-1 {
						raise = s.rank + outerStop + 1 + stream.StopLevel(i)
					}
					if err := s.replay(buf, raise); err != nil {
						return err
					}
				}
			}
		}

		if _, err := s.in.Dequeue(); err != nil {
			return err
		}
		s.log.Log("Streamify", s.ctx.ID(), start, tm.Tick(), false)
	}
}
