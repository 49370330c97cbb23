// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"testing"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

const testID uint32 = 0

// valueTile cria um tile 2x2 funcional preenchido com v.
func valueTile(v float32, fromMU bool) stream.Tile[float32] {
	return stream.NewTile(2, 2, []float32{v, v, v, v}, 4, fromMU)
}

func tileElemEq(a, b stream.Elem[stream.Tile[float32]]) bool {
	return a.Stop == b.Stop && a.Data.Equal(b.Data)
}

func intElemEq(a, b stream.Elem[int]) bool {
	return a.Stop == b.Stop && a.Data == b.Data
}

// mustRun executa o programa e falha o teste em erro.
func mustRun(t *testing.T, b *sim.Builder) sim.Cycle {
	t.Helper()
	elapsed, err := b.Run()
	if err != nil {
		t.Fatalf("program failed: %v", err)
	}
	return elapsed
}

// timedGenerator emite elementos em timestamps pré-fixados; usado pelos
// testes de arbitragem.
type timedGenerator[T any] struct {
	ctx   *sim.Ctx
	out   *sim.Sender[stream.Elem[T]]
	elems []sim.Message[stream.Elem[T]]
}

func newTimedGenerator[T any](out *sim.Sender[stream.Elem[T]], elems []sim.Message[stream.Elem[T]]) *timedGenerator[T] {
	g := &timedGenerator[T]{ctx: sim.NewCtx("TimedGenerator", testID), out: out, elems: elems}
	out.Attach(g.ctx)
	return g
}

func (g *timedGenerator[T]) Ctx() *sim.Ctx { return g.ctx }
func (g *timedGenerator[T]) Run() error {
	for _, msg := range g.elems {
		if err := g.out.Enqueue(msg.Time, msg.Data); err != nil {
			return err
		}
		g.ctx.Time.Advance(msg.Time)
	}
	return nil
}

// collector drena a entrada guardando os elementos e timestamps.
type collector[T any] struct {
	ctx  *sim.Ctx
	in   *sim.Receiver[stream.Elem[T]]
	got  []stream.Elem[T]
	when []sim.Cycle
}

func newCollector[T any](in *sim.Receiver[stream.Elem[T]]) *collector[T] {
	c := &collector[T]{ctx: sim.NewCtx("Collector", testID), in: in}
	in.Attach(c.ctx)
	return c
}

func (c *collector[T]) Ctx() *sim.Ctx { return c.ctx }
func (c *collector[T]) Run() error {
	for {
		msg, err := c.in.Dequeue()
		if err != nil {
			return nil
		}
		c.got = append(c.got, msg.Data)
		c.when = append(c.when, msg.Time)
	}
}
