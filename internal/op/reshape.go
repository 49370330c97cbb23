// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"errors"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// ErrPadValRequired: split da dimensão interna sem valor de padding.
var ErrPadValRequired = errors.New("reshape: splitting the innermost dimension requires a pad value when the chunk does not divide evenly")

// Reshape re-particiona um eixo do stream. Com split_dim == 0 fatia a
// dimensão interna em grupos de chunk_size elementos, preenchendo com
// pad_val quando a sequência não divide exato; add_outer_dim controla o
// nível do stop terminal (2 em vez de 1). Com split_dim > 0, cada
// chunk_size-ésimo stop de nível >= split_dim sobe um nível.
type Reshape[T any] struct {
	ctx             *sim.Ctx
	in              *sim.Receiver[stream.Elem[T]]
	out             *sim.Sender[stream.Elem[T]]
	splitDim        int
	chunkSize       int
	padVal          *T
	inputStreamRank stream.StopLevel
	addOuterDim     bool
}

// NewReshape monta o ator.
func NewReshape[T any](
	in *sim.Receiver[stream.Elem[T]],
	out *sim.Sender[stream.Elem[T]],
	splitDim, chunkSize int,
	padVal *T,
	inputStreamRank stream.StopLevel,
	addOuterDim bool,
	id uint32,
) *Reshape[T] {
	r := &Reshape[T]{
		ctx: sim.NewCtx("Reshape", id),
		in:  in, out: out,
		splitDim: splitDim, chunkSize: chunkSize, padVal: padVal,
		inputStreamRank: inputStreamRank, addOuterDim: addOuterDim,
	}
	in.Attach(r.ctx)
	out.Attach(r.ctx)
	return r
}

// Ctx implementa sim.Actor.
func (r *Reshape[T]) Ctx() *sim.Ctx { return r.ctx }

func (r *Reshape[T]) send(elem stream.Elem[T]) error {
	return r.out.Enqueue(r.ctx.Time.Tick(), elem)
}

// Run despacha para o modo de split configurado.
func (r *Reshape[T]) Run() error {
	if r.splitDim == 0 {
		return r.runSplitInner()
	}
	return r.runSplitOuter()
}

// runSplitInner conta valores e fecha um grupo a cada chunk_size,
// preenchendo com padding nos fechamentos que chegam fora de fase.
func (r *Reshape[T]) runSplitInner() error {
	counter := 0
	for {
		msg, err := r.in.Dequeue()
		if err != nil {
			// Fim do stream no meio de um chunk: só o caso rank 0 é
			// preenchível; ranks maiores teriam fechado com stop antes.
			if counter > 0 && counter < r.chunkSize {
				if r.padVal == nil {
					return ErrPadValRequired
				}
				if r.inputStreamRank != 0 {
					return errors.New("reshape: stream ended mid-chunk on a ranked input")
				}
				pads := r.chunkSize - counter
				for i := 0; i < pads; i++ {
					if i == pads-1 {
						level := stream.StopLevel(1)
						if r.addOuterDim {
							level = 2
						}
						if err := r.send(stream.ValStop(*r.padVal, level)); err != nil {
							return err
						}
					} else if err := r.send(stream.Val(*r.padVal)); err != nil {
						return err
					}
				}
			}
			return nil
		}
		elem := msg.Data

		if !elem.IsStop() {
			counter++
			if counter == r.chunkSize {
				counter = 0
				level := stream.StopLevel(1)
				if r.addOuterDim {
					// Olha adiante para decidir se este é o último chunk.
					if _, err := r.in.PeekNext(); err != nil {
						level = 2
					}
				}
				if err := r.send(stream.ValStop(elem.Data, level)); err != nil {
					return err
				}
			} else if err := r.send(stream.Val(elem.Data)); err != nil {
				return err
			}
			continue
		}

		counter++
		if counter == r.chunkSize {
			counter = 0
			if err := r.send(stream.ValStop(elem.Data, elem.Stop+1)); err != nil {
				return err
			}
			continue
		}
		// Stop fora de fase: emite o valor e completa o chunk com padding.
		if err := r.send(stream.Val(elem.Data)); err != nil {
			return err
		}
		if r.padVal == nil {
			return ErrPadValRequired
		}
		pads := r.chunkSize - counter
		for i := 0; i < pads; i++ {
			if i == pads-1 {
				if err := r.send(stream.ValStop(*r.padVal, elem.Stop+1)); err != nil {
					return err
				}
			} else if err := r.send(stream.Val(*r.padVal)); err != nil {
				return err
			}
		}
		counter = 0
	}
}

// runSplitOuter promove cada chunk_size-ésimo stop de nível >= split_dim.
func (r *Reshape[T]) runSplitOuter() error {
	counter := 0
	for {
		msg, err := r.in.Dequeue()
		if err != nil {
			return nil
		}
		elem := msg.Data
		if !elem.IsStop() {
			if err := r.send(elem); err != nil {
				return err
			}
			continue
		}
		if elem.Stop >= stream.StopLevel(r.splitDim) {
			counter++
		}
		if counter == r.chunkSize {
			counter = 0
			elem.Stop++
		}
		if err := r.send(elem); err != nil {
			return err
		}
	}
}
