// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// FlatPartition roteia um stream de rank partition_rank+sel_rank para P
// pipelines de expert, guiado por um stream de seletores. Cada elemento
// do seletor cobre um grupo de rank partition_rank do stream de entrada
// e duplica cada elemento do grupo em todos os experts marcados,
// cobrando max(switch_cycles[j]) dos experts escolhidos mais o
// write-back opcional.
type FlatPartition[T stream.Payload[T], S stream.SelectorPayload[S]] struct {
	ctx           *sim.Ctx
	in            *sim.Receiver[stream.Elem[T]]
	sel           *sim.Receiver[stream.Elem[S]]
	outs          []*sim.Sender[stream.Elem[T]]
	partitionRank stream.StopLevel
	switchCycles  []uint64
	writeBackMU   bool
	log           *events.Logger
}

// NewFlatPartition monta o ator.
func NewFlatPartition[T stream.Payload[T], S stream.SelectorPayload[S]](
	in *sim.Receiver[stream.Elem[T]],
	sel *sim.Receiver[stream.Elem[S]],
	outs []*sim.Sender[stream.Elem[T]],
	partitionRank stream.StopLevel,
	switchCycles []uint64,
	writeBackMU bool,
	id uint32,
	log *events.Logger,
) *FlatPartition[T, S] {
	p := &FlatPartition[T, S]{
		ctx: sim.NewCtx("FlatPartition", id),
		in:  in, sel: sel, outs: outs,
		partitionRank: partitionRank,
		switchCycles:  switchCycles,
		writeBackMU:   writeBackMU,
		log:           log,
	}
	in.Attach(p.ctx)
	sel.Attach(p.ctx)
	for _, out := range outs {
		out.Attach(p.ctx)
	}
	return p
}

// Ctx implementa sim.Actor.
func (p *FlatPartition[T, S]) Ctx() *sim.Ctx { return p.ctx }

// chargeSwitch cobra o pior switch entre os experts escolhidos mais o
// write-back do payload despachado.
func (p *FlatPartition[T, S]) chargeSwitch(selVec []int, data T) {
	var write uint64
	for _, expert := range selVec {
		if p.switchCycles[expert] > write {
			write = p.switchCycles[expert]
		}
	}
	if p.writeBackMU {
		write += divCeil(uint64(data.SizeInBytes()), mem.PMUBandwidth)
	}
	p.ctx.Time.IncrCycles(write)
}

func (p *FlatPartition[T, S]) fanOut(selVec []int, elem stream.Elem[T]) error {
	for _, expert := range selVec {
		if err := p.outs[expert].Enqueue(p.ctx.Time.Tick(), elem); err != nil {
			return err
		}
	}
	return nil
}

// routeGroup consome um grupo da entrada sob o seletor corrente.
// expectedStop != nil indica que o seletor fechou um grupo de rank
// sel_level: a entrada deve fechar com exatamente sel_level +
// partition_rank.
func (p *FlatPartition[T, S]) routeGroup(selVec []int, expectedStop *stream.StopLevel) error {
	tm := p.ctx.Time
	var start *sim.Cycle
	for {
		e, err := p.in.PeekNext()
		if err != nil {
			if expectedStop != nil {
				return fmt.Errorf("%w: input closed before the selector's stop level", ErrSelectorMismatch)
			}
			return fmt.Errorf("%w: input closed mid-group", ErrSelectorMismatch)
		}
		if start == nil {
			t := tm.Tick()
			start = &t
		}
		data, stop := e.Data.Data, e.Data.Stop

		if !e.Data.IsStop() {
			if err := p.chargeAndSend(selVec, data, 0); err != nil {
				return err
			}
			if p.partitionRank == 0 {
				p.log.Log("FlatPartition", p.ctx.ID(), *start, tm.Tick(), true)
				return nil
			}
			continue
		}

		switch {
		case expectedStop != nil && *expectedStop != stop:
			return fmt.Errorf("%w: input stop %d, selector expects %d", ErrSelectorMismatch, stop, *expectedStop)
		case expectedStop == nil && stop > p.partitionRank:
			return fmt.Errorf("%w: stop %d > partition rank %d without a closing selector", ErrStopAboveRank, stop, p.partitionRank)
		}

		outStop := stop
		if expectedStop != nil {
			outStop = p.partitionRank
		}
		if err := p.chargeAndSend(selVec, data, outStop); err != nil {
			return err
		}
		if stop == p.partitionRank || (expectedStop != nil && *expectedStop == stop) {
			p.log.Log("FlatPartition", p.ctx.ID(), *start, tm.Tick(), true)
			return nil
		}
	}
}

func (p *FlatPartition[T, S]) chargeAndSend(selVec []int, data T, outStop stream.StopLevel) error {
	if data.ReadFromMU() {
		p.ctx.Time.IncrCycles(divCeil(uint64(data.SizeInBytes()), mem.PMUBandwidth))
	}
	if _, err := p.in.Dequeue(); err != nil {
		return err
	}
	p.chargeSwitch(selVec, data)
	return p.fanOut(selVec, stream.Elem[T]{Data: data.WithReadFromMU(p.writeBackMU), Stop: outStop})
}

// Run consome seletores até o stream de seleção fechar.
func (p *FlatPartition[T, S]) Run() error {
	for {
		e, err := p.sel.PeekNext()
		if err != nil {
			return nil
		}
		sel := e.Data.Data
		if sel.ReadFromMU() {
			p.ctx.Time.IncrCycles(divCeil(uint64(sel.SizeInBytes()), mem.PMUBandwidth))
		}
		if _, err := p.sel.Dequeue(); err != nil {
			return err
		}
		selVec := sel.SelVec()
		if e.Data.IsStop() {
			expected := e.Data.Stop + p.partitionRank
			if err := p.routeGroup(selVec, &expected); err != nil {
				return err
			}
		} else {
			if err := p.routeGroup(selVec, nil); err != nil {
				return err
			}
		}
	}
}
