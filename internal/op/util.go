// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Generator reproduz uma fatia pré-computada de elementos, um por
// ciclo. É a fonte usada pelo binder para SelectGen e pelos testes.
type Generator[T any] struct {
	ctx   *sim.Ctx
	out   *sim.Sender[stream.Elem[T]]
	elems []stream.Elem[T]
}

// NewGenerator monta o gerador.
func NewGenerator[T any](out *sim.Sender[stream.Elem[T]], elems []stream.Elem[T], id uint32) *Generator[T] {
	g := &Generator[T]{ctx: sim.NewCtx("Generator", id), out: out, elems: elems}
	out.Attach(g.ctx)
	return g
}

// Ctx implementa sim.Actor.
func (g *Generator[T]) Ctx() *sim.Ctx { return g.ctx }

// Run emite a fatia inteira e encerra.
func (g *Generator[T]) Run() error {
	tm := g.ctx.Time
	for _, elem := range g.elems {
		if err := g.out.Enqueue(tm.Tick(), elem); err != nil {
			return err
		}
		tm.IncrCycles(1)
	}
	return nil
}

// Checker compara a entrada com uma sequência esperada usando eq.
// Divergência ou contagem errada falham a simulação — é o que decide o
// campo passed do resultado.
type Checker[T any] struct {
	ctx      *sim.Ctx
	in       *sim.Receiver[stream.Elem[T]]
	expected []stream.Elem[T]
	eq       func(a, b stream.Elem[T]) bool
}

// NewChecker monta o verificador.
func NewChecker[T any](
	in *sim.Receiver[stream.Elem[T]],
	expected []stream.Elem[T],
	eq func(a, b stream.Elem[T]) bool,
	id uint32,
) *Checker[T] {
	c := &Checker[T]{ctx: sim.NewCtx("Checker", id), in: in, expected: expected, eq: eq}
	in.Attach(c.ctx)
	return c
}

// Ctx implementa sim.Actor.
func (c *Checker[T]) Ctx() *sim.Ctx { return c.ctx }

// Run drena e compara.
func (c *Checker[T]) Run() error {
	pos := 0
	for {
		msg, err := c.in.Dequeue()
		if err != nil {
			if pos != len(c.expected) {
				return fmt.Errorf("checker: stream closed after %d of %d expected elements", pos, len(c.expected))
			}
			return nil
		}
		if pos >= len(c.expected) {
			return fmt.Errorf("checker: got more than the %d expected elements", len(c.expected))
		}
		if !c.eq(msg.Data, c.expected[pos]) {
			return fmt.Errorf("checker: element %d does not match the expected value", pos)
		}
		pos++
	}
}

// Consumer drena a entrada sem olhar o conteúdo.
type Consumer[T any] struct {
	ctx *sim.Ctx
	in  *sim.Receiver[stream.Elem[T]]
}

// NewConsumer monta o dreno.
func NewConsumer[T any](in *sim.Receiver[stream.Elem[T]], id uint32) *Consumer[T] {
	c := &Consumer[T]{ctx: sim.NewCtx("Consumer", id), in: in}
	in.Attach(c.ctx)
	return c
}

// Ctx implementa sim.Actor.
func (c *Consumer[T]) Ctx() *sim.Ctx { return c.ctx }

// Run drena até fechar.
func (c *Consumer[T]) Run() error {
	for {
		if _, err := c.in.Dequeue(); err != nil {
			return nil
		}
	}
}

// Printer drena a entrada logando cada elemento — o equivalente de
// depuração do Consumer.
type Printer[T any] struct {
	ctx    *sim.Ctx
	in     *sim.Receiver[stream.Elem[T]]
	logger *slog.Logger
}

// NewPrinter monta o dreno com log.
func NewPrinter[T any](in *sim.Receiver[stream.Elem[T]], logger *slog.Logger, id uint32) *Printer[T] {
	p := &Printer[T]{ctx: sim.NewCtx("Printer", id), in: in, logger: logger}
	in.Attach(p.ctx)
	return p
}

// Ctx implementa sim.Actor.
func (p *Printer[T]) Ctx() *sim.Ctx { return p.ctx }

// Run drena até fechar.
func (p *Printer[T]) Run() error {
	for {
		msg, err := p.in.Dequeue()
		if err != nil {
			return nil
		}
		p.logger.Info("stream element",
			"node", p.ctx.ID(),
			"time", msg.Time,
			"stop", msg.Data.Stop,
		)
	}
}
