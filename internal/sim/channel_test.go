// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sim

import (
	"testing"
	"time"
)

func TestTimeManager_Advance(t *testing.T) {
	tm := NewTimeManager()
	if tm.Tick() != 0 {
		t.Fatalf("expected fresh clock at 0, got %d", tm.Tick())
	}
	tm.IncrCycles(5)
	if tm.Tick() != 5 {
		t.Fatalf("expected 5, got %d", tm.Tick())
	}
	tm.Advance(3)
	if tm.Tick() != 5 {
		t.Fatalf("advance backwards must not move the clock, got %d", tm.Tick())
	}
	tm.Advance(12)
	if tm.Tick() != 12 {
		t.Fatalf("expected 12, got %d", tm.Tick())
	}
}

func TestChannel_EnqueueDequeue(t *testing.T) {
	b := NewBuilder()
	snd, rcv := Bounded[int](b, 4)

	producer := NewCtx("producer", 0)
	consumer := NewCtx("consumer", 1)
	snd.Attach(producer)
	rcv.Attach(consumer)

	if err := snd.Enqueue(3, 42); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	msg, err := rcv.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}
	if msg.Data != 42 || msg.Time != 3 {
		t.Fatalf("expected (3, 42), got (%d, %d)", msg.Time, msg.Data)
	}
	// O relógio do consumidor avança até o send_time do elemento.
	if consumer.Time.Tick() != 3 {
		t.Fatalf("expected consumer clock at 3, got %d", consumer.Time.Tick())
	}
}

func TestChannel_PastTimestampRejected(t *testing.T) {
	b := NewBuilder()
	snd, _ := Bounded[int](b, 4)
	producer := NewCtx("producer", 0)
	snd.Attach(producer)
	producer.Time.IncrCycles(10)

	if err := snd.Enqueue(5, 1); err != ErrPastTime {
		t.Fatalf("expected ErrPastTime, got %v", err)
	}
}

func TestChannel_Backpressure(t *testing.T) {
	b := NewBuilder()
	snd, rcv := Bounded[int](b, 1)
	producer := NewCtx("producer", 0)
	consumer := NewCtx("consumer", 1)
	snd.Attach(producer)
	rcv.Attach(consumer)

	if err := snd.Enqueue(0, 1); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		snd.Enqueue(0, 2)
		close(done)
	}()

	// Segundo enqueue deve bloquear enquanto o canal está cheio.
	select {
	case <-done:
		t.Fatal("enqueue on a full channel must block")
	case <-time.After(100 * time.Millisecond):
	}

	consumer.Time.IncrCycles(7)
	if _, err := rcv.Dequeue(); err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock after dequeue")
	}
	// O produtor avança até o instante em que o espaço foi liberado.
	if producer.Time.Tick() != 7 {
		t.Fatalf("expected producer clock at 7, got %d", producer.Time.Tick())
	}
}

func TestChannel_ClosurePropagation(t *testing.T) {
	b := NewBuilder()
	snd, rcv := Bounded[int](b, 2)
	producer := NewCtx("producer", 0)
	consumer := NewCtx("consumer", 1)
	snd.Attach(producer)
	rcv.Attach(consumer)

	if err := snd.Enqueue(1, 10); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	producer.Shutdown()

	// Elementos pendentes são drenados antes do Closed.
	if _, err := rcv.Dequeue(); err != nil {
		t.Fatalf("expected pending element before close, got %v", err)
	}
	if _, err := rcv.Dequeue(); err != ErrClosed {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
	if pr := rcv.Peek(); pr.Kind != PeekClosed {
		t.Fatalf("expected PeekClosed, got %v", pr.Kind)
	}
}

func TestChannel_BlockedReceiverObservesClose(t *testing.T) {
	b := NewBuilder()
	snd, rcv := Bounded[int](b, 2)
	producer := NewCtx("producer", 0)
	consumer := NewCtx("consumer", 1)
	snd.Attach(producer)
	rcv.Attach(consumer)

	errCh := make(chan error, 1)
	go func() {
		_, err := rcv.Dequeue()
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	producer.Shutdown()

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked receiver did not observe channel close")
	}
}

func TestChannel_WaitPeekWatermark(t *testing.T) {
	b := NewBuilder()
	snd, rcv := Bounded[int](b, 4)
	producer := NewCtx("producer", 0)
	consumer := NewCtx("consumer", 1)
	snd.Attach(producer)
	rcv.Attach(consumer)

	got := make(chan PeekResult[int], 1)
	go func() {
		got <- rcv.WaitPeek(10)
	}()

	// Relógio do produtor em 5: marca d'água ainda não descarta t<=10.
	producer.Time.IncrCycles(5)
	select {
	case <-got:
		t.Fatal("WaitPeek resolved before the watermark passed the bound")
	case <-time.After(100 * time.Millisecond):
	}

	// Avançando além do bound, o receiver ganha a garantia "nada <= 10".
	producer.Time.IncrCycles(10)
	select {
	case pr := <-got:
		if pr.Kind != PeekNothing {
			t.Fatalf("expected PeekNothing, got %v", pr.Kind)
		}
		if pr.NextTime < 11 {
			t.Fatalf("expected a promise beyond the bound, got %d", pr.NextTime)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitPeek did not resolve after the watermark advanced")
	}
}

func TestEarliestOf_PicksEarliestAndBreaksTiesByIndex(t *testing.T) {
	b := NewBuilder()
	snd0, rcv0 := Bounded[int](b, 4)
	snd1, rcv1 := Bounded[int](b, 4)
	p0 := NewCtx("p0", 0)
	p1 := NewCtx("p1", 1)
	c := NewCtx("c", 2)
	snd0.Attach(p0)
	snd1.Attach(p1)
	rcv0.Attach(c)
	rcv1.Attach(c)

	if err := snd1.Enqueue(14, 100); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := snd0.Enqueue(12, 200); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	p0.Shutdown()
	p1.Shutdown()

	idx, msg, ok := EarliestOf([]*Receiver[int]{rcv0, rcv1})
	if !ok || idx != 0 || msg.Time != 12 {
		t.Fatalf("expected stream 0 at t=12, got idx=%d t=%d ok=%v", idx, msg.Time, ok)
	}

	// Empate exato: o menor índice vence.
	b2 := NewBuilder()
	s0, r0 := Bounded[int](b2, 4)
	s1, r1 := Bounded[int](b2, 4)
	q0 := NewCtx("q0", 0)
	q1 := NewCtx("q1", 1)
	c2 := NewCtx("c2", 2)
	s0.Attach(q0)
	s1.Attach(q1)
	r0.Attach(c2)
	r1.Attach(c2)
	s1.Enqueue(5, 1)
	s0.Enqueue(5, 2)
	q0.Shutdown()
	q1.Shutdown()
	idx, _, ok = EarliestOf([]*Receiver[int]{r0, r1})
	if !ok || idx != 0 {
		t.Fatalf("expected tie broken by index 0, got %d", idx)
	}
}

func TestBuilder_RunCollectsElapsedCycles(t *testing.T) {
	b := NewBuilder()
	snd, rcv := Bounded[int](b, 2)

	b.Add(&testProducer{ctx: attachSnd(snd, "prod"), snd: snd, n: 3})
	b.Add(&testConsumer{ctx: attachRcv(rcv, "cons"), rcv: rcv})

	elapsed, err := b.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if elapsed != 3 {
		t.Fatalf("expected 3 elapsed cycles, got %d", elapsed)
	}
}

type testProducer struct {
	ctx *Ctx
	snd *Sender[int]
	n   int
}

func (p *testProducer) Ctx() *Ctx { return p.ctx }
func (p *testProducer) Run() error {
	for i := 0; i < p.n; i++ {
		if err := p.snd.Enqueue(p.ctx.Time.Tick(), i); err != nil {
			return err
		}
		p.ctx.Time.IncrCycles(1)
	}
	return nil
}

type testConsumer struct {
	ctx *Ctx
	rcv *Receiver[int]
}

func (c *testConsumer) Ctx() *Ctx { return c.ctx }
func (c *testConsumer) Run() error {
	for {
		if _, err := c.rcv.Dequeue(); err != nil {
			return nil
		}
	}
}

func attachSnd(snd *Sender[int], name string) *Ctx {
	ctx := NewCtx(name, 0)
	snd.Attach(ctx)
	return ctx
}

func attachRcv(rcv *Receiver[int], name string) *Ctx {
	ctx := NewCtx(name, 1)
	rcv.Attach(ctx)
	return ctx
}
