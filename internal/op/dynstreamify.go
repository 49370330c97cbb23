// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// DynStreamify replica buffers com contagem de repetições dinâmica,
// lida de um stream de referência: cada Val do ref replica o buffer
// corrente uma vez; um stop de nível >= repeat_rank+1 avança para o
// próximo buffer. No replay disparado por um stop do ref, o fim de
// buffer (nível == bufferized_rank) sobe para nível + ref_stop.
type DynStreamify[T any, R any] struct {
	ctx            *sim.Ctx
	in             *sim.Receiver[stream.Elem[stream.Buffer[T]]]
	ref            *sim.Receiver[stream.Elem[R]]
	out            *sim.Sender[stream.Elem[T]]
	bufferizedRank stream.StopLevel
	repeatRank     stream.StopLevel
	log            *events.Logger
}

// NewDynStreamify monta o ator.
func NewDynStreamify[T any, R any](
	in *sim.Receiver[stream.Elem[stream.Buffer[T]]],
	ref *sim.Receiver[stream.Elem[R]],
	out *sim.Sender[stream.Elem[T]],
	bufferizedRank, repeatRank stream.StopLevel,
	id uint32,
	log *events.Logger,
) *DynStreamify[T, R] {
	d := &DynStreamify[T, R]{
		ctx: sim.NewCtx("DynStreamify", id),
		in:  in, ref: ref, out: out,
		bufferizedRank: bufferizedRank,
		repeatRank:     repeatRank,
		log:            log,
	}
	in.Attach(d.ctx)
	ref.Attach(d.ctx)
	out.Attach(d.ctx)
	return d
}

// Ctx implementa sim.Actor.
func (d *DynStreamify[T, R]) Ctx() *sim.Ctx { return d.ctx }

// replay percorre o buffer uma vez; refStop > 0 promove o fim de buffer.
func (d *DynStreamify[T, R]) replay(buf stream.Buffer[T], refStop stream.StopLevel) error {
	tm := d.ctx.Time
	for _, elem := range buf.ElemSeq() {
		if elem.IsStop() && refStop > 0 {
			switch {
			case elem.Stop == d.bufferizedRank:
				elem.Stop += refStop
			case elem.Stop < d.bufferizedRank:
				// stop interno passa intacto
			default:
				return fmt.Errorf("%w: buffer rank %d, tile stop %d", ErrStopAboveRank, d.bufferizedRank, elem.Stop)
			}
		}
		if err := d.out.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
		tm.IncrCycles(1)
	}
	return nil
}

// Run processa buffers até a entrada fechar.
func (d *DynStreamify[T, R]) Run() error {
	tm := d.ctx.Time
	for {
		msg, err := d.in.PeekNext()
		if err != nil {
			return nil
		}
		start := tm.Tick()
		buf := msg.Data.Data
		bufIsLast := !msg.Data.IsStop()

	refLoop:
		for {
			refMsg, err := d.ref.Dequeue()
			if err != nil {
				if bufIsLast {
					// Stream de entrada rank 0: o ref esgota e encerramos.
					if _, derr := d.in.Dequeue(); derr != nil {
						return nil
					}
					return nil
				}
				break refLoop
			}
			refElem := refMsg.Data
			if !refElem.IsStop() {
				if err := d.replay(buf, 0); err != nil {
					return err
				}
				continue
			}
			if bufIsLast {
				return fmt.Errorf("dynstreamify: unexpected stop S(%d) in reference stream for a rank-0 buffer stream", refElem.Stop)
			}
			if err := d.replay(buf, refElem.Stop); err != nil {
				return err
			}
			if refElem.Stop >= d.repeatRank+1 {
				break refLoop
			}
		}

		if _, err := d.in.Dequeue(); err != nil {
			return err
		}
		d.log.Log("DynStreamify", d.ctx.ID(), start, tm.Tick(), false)
	}
}
