// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"errors"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Bufferize acumula a entrada num buffer denso de rank `rank` e emite
// um buffer por grupo completo. Um stop acima do rank sai como stop
// residual (nível - rank) no canal de buffers.
type Bufferize[T any] struct {
	ctx  *sim.Ctx
	in   *sim.Receiver[stream.Elem[T]]
	out  *sim.Sender[stream.Elem[stream.Buffer[T]]]
	rank stream.StopLevel
	log  *events.Logger
}

// NewBufferize monta o ator.
func NewBufferize[T any](
	in *sim.Receiver[stream.Elem[T]],
	out *sim.Sender[stream.Elem[stream.Buffer[T]]],
	rank stream.StopLevel,
	id uint32,
	log *events.Logger,
) *Bufferize[T] {
	b := &Bufferize[T]{ctx: sim.NewCtx("Bufferize", id), in: in, out: out, rank: rank, log: log}
	in.Attach(b.ctx)
	out.Attach(b.ctx)
	return b
}

// Ctx implementa sim.Actor.
func (b *Bufferize[T]) Ctx() *sim.Ctx { return b.ctx }

// Run coleta grupos até a entrada fechar. Fechamento no meio de um
// grupo é violação de protocolo.
func (b *Bufferize[T]) Run() error {
	tm := b.ctx.Time
	for {
		buf, residual, err := stream.FromStream(b.in, tm, int(b.rank))
		switch {
		case errors.Is(err, stream.ErrStreamDone):
			return nil
		case err != nil:
			return err
		}
		b.log.Log("Bufferize", b.ctx.ID(), buf.CreationTime, tm.Tick(), false)
		if err := b.out.Enqueue(tm.Tick(), stream.Elem[stream.Buffer[T]]{Data: buf, Stop: residual}); err != nil {
			return err
		}
	}
}
