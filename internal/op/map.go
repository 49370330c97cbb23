// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package op implementa os atores de operador: maps com contabilidade
// roofline, acumuladores, roteamento por seletor (partition/reassemble),
// merges com arbitragem por timestamp, promoção/rebaixamento de rank e a
// dupla bufferize/streamify.
//
// A análise roofline assume um operando por PMU, sem tiling on-chip
// adicional, e banda integral em cada acesso — um limite otimista.
package op

import (
	"errors"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Erros de protocolo detectados em tempo de execução.
var (
	// ErrStopMismatch: os stop levels de um par de entradas divergem.
	ErrStopMismatch = errors.New("op: input stop levels disagree")
	// ErrEarlyClose: uma das entradas pareadas fechou antes da outra.
	ErrEarlyClose = errors.New("op: one input stream closed earlier")
	// ErrStopAboveRank: stop token maior que o rank declarado.
	ErrStopAboveRank = errors.New("op: stop level exceeds declared rank")
	// ErrSelectorMismatch: o stream de entrada não alinha com o seletor.
	ErrSelectorMismatch = errors.New("op: input stream does not align with selector")
)

func divCeil(a, b uint64) uint64 {
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

func loadCycles[T stream.Payload[T]](data T) uint64 {
	if !data.ReadFromMU() {
		return 0
	}
	return divCeil(uint64(data.SizeInBytes()), mem.PMUBandwidth)
}

func max3(a, b, c uint64) uint64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// BinaryMapFunc calcula um tile de saída e o custo em ciclos do
// compute. As duas entradas podem ter tipos de elemento distintos (por
// exemplo set_offset combina um tile f32 com um tile u64 de metadados).
type BinaryMapFunc[A, B stream.Scalar] func(in1 stream.Tile[A], in2 stream.Tile[B], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[A])

// UnaryMapFunc é a variante unária.
type UnaryMapFunc[T stream.Scalar] func(in stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T])

// BinaryMap aplica f a cada par de elementos das duas entradas,
// cobrando max(load, compute, store) ciclos por invocação. Os stop
// levels das entradas devem coincidir em cada passo e passam intactos à
// saída.
type BinaryMap[A, B stream.Scalar] struct {
	ctx         *sim.Ctx
	in1         *sim.Receiver[stream.Elem[stream.Tile[A]]]
	in2         *sim.Receiver[stream.Elem[stream.Tile[B]]]
	out         *sim.Sender[stream.Elem[stream.Tile[A]]]
	fn          BinaryMapFunc[A, B]
	computeBW   uint64
	writeBackMU bool
	log         *events.Logger
}

// NewBinaryMap monta o ator e prende os canais ao seu contexto.
func NewBinaryMap[A, B stream.Scalar](
	in1 *sim.Receiver[stream.Elem[stream.Tile[A]]],
	in2 *sim.Receiver[stream.Elem[stream.Tile[B]]],
	out *sim.Sender[stream.Elem[stream.Tile[A]]],
	fn BinaryMapFunc[A, B],
	computeBW uint64,
	writeBackMU bool,
	id uint32,
	log *events.Logger,
) *BinaryMap[A, B] {
	m := &BinaryMap[A, B]{
		ctx: sim.NewCtx("BinaryMap", id),
		in1: in1, in2: in2, out: out,
		fn: fn, computeBW: computeBW, writeBackMU: writeBackMU,
		log: log,
	}
	in1.Attach(m.ctx)
	in2.Attach(m.ctx)
	out.Attach(m.ctx)
	return m
}

// Ctx implementa sim.Actor.
func (m *BinaryMap[A, B]) Ctx() *sim.Ctx { return m.ctx }

// Run processa até ambas as entradas fecharem.
func (m *BinaryMap[A, B]) Run() error {
	tm := m.ctx.Time
	for {
		e1, err1 := m.in1.PeekNext()
		e2, err2 := m.in2.PeekNext()
		switch {
		case err1 != nil && err2 != nil:
			return nil
		case err1 != nil || err2 != nil:
			return ErrEarlyClose
		}
		if e1.Data.Stop != e2.Data.Stop {
			return ErrStopMismatch
		}
		tile1, tile2, stop := e1.Data.Data, e2.Data.Data, e1.Data.Stop

		start := tm.Tick()
		load := loadCycles(tile1) + loadCycles(tile2)
		compCycles, outTile := m.fn(tile1, tile2, m.computeBW, m.writeBackMU)
		var store uint64
		if m.writeBackMU {
			store = divCeil(uint64(outTile.SizeInBytes()), mem.PMUBandwidth)
		}
		tm.IncrCycles(max3(load, compCycles, store))

		if err := m.out.Enqueue(tm.Tick(), stream.Elem[stream.Tile[A]]{Data: outTile, Stop: stop}); err != nil {
			return err
		}
		m.log.Log("BinaryMap", m.ctx.ID(), start, tm.Tick(), stop > 0)

		if _, err := m.in1.Dequeue(); err != nil {
			return err
		}
		if _, err := m.in2.Dequeue(); err != nil {
			return err
		}
	}
}

// UnaryMap é o map de entrada única.
type UnaryMap[T stream.Scalar] struct {
	ctx         *sim.Ctx
	in          *sim.Receiver[stream.Elem[stream.Tile[T]]]
	out         *sim.Sender[stream.Elem[stream.Tile[T]]]
	fn          UnaryMapFunc[T]
	computeBW   uint64
	writeBackMU bool
	log         *events.Logger
}

// NewUnaryMap monta o ator.
func NewUnaryMap[T stream.Scalar](
	in *sim.Receiver[stream.Elem[stream.Tile[T]]],
	out *sim.Sender[stream.Elem[stream.Tile[T]]],
	fn UnaryMapFunc[T],
	computeBW uint64,
	writeBackMU bool,
	id uint32,
	log *events.Logger,
) *UnaryMap[T] {
	m := &UnaryMap[T]{
		ctx: sim.NewCtx("UnaryMap", id),
		in:  in, out: out,
		fn: fn, computeBW: computeBW, writeBackMU: writeBackMU,
		log: log,
	}
	in.Attach(m.ctx)
	out.Attach(m.ctx)
	return m
}

// Ctx implementa sim.Actor.
func (m *UnaryMap[T]) Ctx() *sim.Ctx { return m.ctx }

// Run processa até a entrada fechar.
func (m *UnaryMap[T]) Run() error {
	tm := m.ctx.Time
	for {
		e, err := m.in.PeekNext()
		if err != nil {
			return nil
		}
		tile, stop := e.Data.Data, e.Data.Stop

		start := tm.Tick()
		load := loadCycles(tile)
		compCycles, outTile := m.fn(tile, m.computeBW, m.writeBackMU)
		var store uint64
		if m.writeBackMU {
			store = divCeil(uint64(outTile.SizeInBytes()), mem.PMUBandwidth)
		}
		tm.IncrCycles(max3(load, compCycles, store))

		if err := m.out.Enqueue(tm.Tick(), stream.Elem[stream.Tile[T]]{Data: outTile, Stop: stop}); err != nil {
			return err
		}
		m.log.Log("UnaryMap", m.ctx.ID(), start, tm.Tick(), stop > 0)

		if _, err := m.in.Dequeue(); err != nil {
			return err
		}
	}
}
