// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"
	"sort"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// FlatReassemble é o inverso do FlatPartition: para cada seletor, drena
// um grupo de rank reassemble_rank de cada expert marcado, na ordem dos
// timestamps de chegada (arbitragem do interconnect on-chip), e emite o
// stream reunificado. O último expert do seletor tem o stop elevado em
// 1 + sel_stop para que a saída carregue o rank do seletor.
type FlatReassemble[T stream.Payload[T], S stream.SelectorPayload[S]] struct {
	ctx            *sim.Ctx
	ins            []*sim.Receiver[stream.Elem[T]]
	sel            *sim.Receiver[stream.Elem[S]]
	out            *sim.Sender[stream.Elem[T]]
	reassembleRank stream.StopLevel
	switchCycles   []uint64
	writeBackMU    bool
	log            *events.Logger
}

// NewFlatReassemble monta o ator.
func NewFlatReassemble[T stream.Payload[T], S stream.SelectorPayload[S]](
	ins []*sim.Receiver[stream.Elem[T]],
	sel *sim.Receiver[stream.Elem[S]],
	out *sim.Sender[stream.Elem[T]],
	reassembleRank stream.StopLevel,
	switchCycles []uint64,
	writeBackMU bool,
	id uint32,
	log *events.Logger,
) *FlatReassemble[T, S] {
	r := &FlatReassemble[T, S]{
		ctx: sim.NewCtx("FlatReassemble", id),
		ins: ins, sel: sel, out: out,
		reassembleRank: reassembleRank,
		switchCycles:   switchCycles,
		writeBackMU:    writeBackMU,
		log:            log,
	}
	for _, in := range ins {
		in.Attach(r.ctx)
	}
	sel.Attach(r.ctx)
	out.Attach(r.ctx)
	return r
}

// Ctx implementa sim.Actor.
func (r *FlatReassemble[T, S]) Ctx() *sim.Ctx { return r.ctx }

// arriveTimes espera cada expert selecionado expor seu próximo elemento
// e devolve os timestamps de chegada.
func (r *FlatReassemble[T, S]) arriveTimes(selVec []int) ([]sim.Cycle, error) {
	times := make([]sim.Cycle, len(selVec))
	for i, idx := range selVec {
		pr := r.ins[idx].WaitPeek(sim.MaxCycle)
		if pr.Kind != sim.PeekSomething {
			return nil, fmt.Errorf("%w: expert stream %d closed under an active selector", ErrSelectorMismatch, idx)
		}
		times[i] = pr.Msg.Time
	}
	return times, nil
}

// drainExpert despeja um grupo do expert para a saída. last indica o
// último expert do seletor corrente, cujo fechamento carrega o rank do
// seletor (1 + addRank acima do nível local).
func (r *FlatReassemble[T, S]) drainExpert(streamIdx int, arrive sim.Cycle, addRank stream.StopLevel, last bool, start sim.Cycle) error {
	tm := r.ctx.Time
	for {
		e, err := r.ins[streamIdx].PeekNext()
		if err != nil {
			return fmt.Errorf("%w: expert stream %d closed mid-group", ErrSelectorMismatch, streamIdx)
		}
		data, stop := e.Data.Data, e.Data.Stop

		load := r.switchCycles[streamIdx]
		if data.ReadFromMU() {
			load += divCeil(uint64(data.SizeInBytes()), mem.PMUBandwidth)
		}
		tm.Advance(arrive + load)

		if _, err := r.ins[streamIdx].Dequeue(); err != nil {
			return err
		}
		if r.writeBackMU {
			tm.IncrCycles(divCeil(uint64(data.SizeInBytes()), mem.PMUBandwidth))
		}

		outStop := stop
		if r.reassembleRank == 0 {
			if last {
				outStop = stop + addRank + 1
			} else {
				outStop = 0
			}
		} else if last && stop >= r.reassembleRank {
			outStop = stop + addRank + 1
		}
		elem := stream.Elem[T]{Data: data.WithReadFromMU(r.writeBackMU), Stop: outStop}
		if err := r.out.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}

		groupDone := (r.reassembleRank == 0 && stop == 0) || (stop >= r.reassembleRank && r.reassembleRank > 0)
		if r.reassembleRank == 0 && stop > 0 {
			groupDone = true
		}
		if groupDone {
			r.log.Log("FlatReassemble", r.ctx.ID(), start, tm.Tick(), true)
			return nil
		}
	}
}

// reassembleGroup processa um seletor: ordena os experts escolhidos por
// tempo de chegada e os drena um a um.
func (r *FlatReassemble[T, S]) reassembleGroup(selVec []int, addRank stream.StopLevel) error {
	times, err := r.arriveTimes(selVec)
	if err != nil {
		return err
	}
	order := make([]int, len(selVec))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return times[order[a]] < times[order[b]] })

	for pos, i := range order {
		last := pos == len(order)-1
		if err := r.drainExpert(selVec[i], times[i], addRank, last, times[i]); err != nil {
			return err
		}
	}
	return nil
}

// Run consome seletores até o stream de seleção fechar.
func (r *FlatReassemble[T, S]) Run() error {
	tm := r.ctx.Time
	for {
		e, err := r.sel.PeekNext()
		if err != nil {
			return nil
		}
		sel := e.Data.Data
		if sel.ReadFromMU() {
			tm.Advance(tm.Tick() + divCeil(uint64(sel.SizeInBytes()), mem.PMUBandwidth))
		}
		if _, err := r.sel.Dequeue(); err != nil {
			return err
		}
		selVec := sel.SelVec()
		var addRank stream.StopLevel
		if e.Data.IsStop() {
			addRank = e.Data.Stop
			if err := r.reassembleGroup(selVec, addRank); err != nil {
				return err
			}
		} else {
			if err := r.reassembleGroup(selVec, 0); err != nil {
				return err
			}
		}
	}
}
