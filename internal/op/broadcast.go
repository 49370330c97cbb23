// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Broadcast replica um canal single-producer single-consumer em N
// destinos. Antes de replicar, espera capacidade em todos os alvos; o
// fan-out implícito não existe nos canais, então todo produtor com mais
// de um consumidor passa por aqui.
type Broadcast[T any] struct {
	ctx     *sim.Ctx
	in      *sim.Receiver[stream.Elem[T]]
	targets []*sim.Sender[stream.Elem[T]]
}

// NewBroadcast monta o ator com a lista de alvos vazia.
func NewBroadcast[T any](in *sim.Receiver[stream.Elem[T]], id uint32) *Broadcast[T] {
	b := &Broadcast[T]{ctx: sim.NewCtx("Broadcast", id), in: in}
	in.Attach(b.ctx)
	return b
}

// AddTarget registra mais um destino.
func (b *Broadcast[T]) AddTarget(target *sim.Sender[stream.Elem[T]]) {
	target.Attach(b.ctx)
	b.targets = append(b.targets, target)
}

// Ctx implementa sim.Actor.
func (b *Broadcast[T]) Ctx() *sim.Ctx { return b.ctx }

// Run replica até a entrada fechar.
func (b *Broadcast[T]) Run() error {
	tm := b.ctx.Time
	for {
		msg, err := b.in.Dequeue()
		if err != nil {
			return nil
		}
		for _, target := range b.targets {
			if err := target.WaitUntilAvailable(); err != nil {
				return err
			}
		}
		for _, target := range b.targets {
			if err := target.Enqueue(tm.Tick(), msg.Data); err != nil {
				return err
			}
		}
	}
}
