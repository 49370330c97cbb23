// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Parallelize distribui grupos de rank partition_rank round-robin entre
// P saídas, sem seletor. O switch é cobrado no timestamp do elemento
// (switch_cycles indexado pela saída corrente).
type Parallelize[T stream.Payload[T]] struct {
	ctx           *sim.Ctx
	in            *sim.Receiver[stream.Elem[T]]
	outs          []*sim.Sender[stream.Elem[T]]
	partitionRank stream.StopLevel
	switchCycles  []uint64
}

// NewParallelize monta o ator.
func NewParallelize[T stream.Payload[T]](
	in *sim.Receiver[stream.Elem[T]],
	outs []*sim.Sender[stream.Elem[T]],
	partitionRank stream.StopLevel,
	switchCycles []uint64,
	id uint32,
) *Parallelize[T] {
	p := &Parallelize[T]{
		ctx: sim.NewCtx("Parallelize", id),
		in:  in, outs: outs,
		partitionRank: partitionRank,
		switchCycles:  switchCycles,
	}
	in.Attach(p.ctx)
	for _, out := range outs {
		out.Attach(p.ctx)
	}
	return p
}

// Ctx implementa sim.Actor.
func (p *Parallelize[T]) Ctx() *sim.Ctx { return p.ctx }

// Run distribui até a entrada fechar.
func (p *Parallelize[T]) Run() error {
	tm := p.ctx.Time
	for {
		for i := range p.outs {
			for {
				msg, err := p.in.Dequeue()
				if err != nil {
					return nil
				}
				elem := msg.Data
				if err := p.outs[i].Enqueue(tm.Tick()+p.switchCycles[i], elem); err != nil {
					return err
				}
				if !elem.IsStop() {
					if p.partitionRank == 0 {
						break
					}
					continue
				}
				if elem.Stop == p.partitionRank {
					break
				}
				if elem.Stop > p.partitionRank {
					return fmt.Errorf("%w: stop %d > partition rank %d", ErrStopAboveRank, elem.Stop, p.partitionRank)
				}
			}
		}
	}
}
