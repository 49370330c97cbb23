// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// MapAccumFunc combina o par de entradas com o acumulador corrente.
type MapAccumFunc[T stream.Scalar] func(in1, in2, acc stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T])

// InitAccumFunc constrói o acumulador inicial (tile zero, vazio ou
// blank, conforme o modo funcional).
type InitAccumFunc[T stream.Scalar] func() stream.Tile[T]

// BinaryMapAccum acumula pares de entradas ao longo do eixo de redução
// na posição `rank`: stops abaixo do rank só atualizam o acumulador;
// no rank, o acumulado sai como valor e o acumulador reinicia; acima,
// sai com o nível rebaixado em rank. É o esqueleto do matmul tiled.
type BinaryMapAccum[T stream.Scalar] struct {
	ctx         *sim.Ctx
	in1         *sim.Receiver[stream.Elem[stream.Tile[T]]]
	in2         *sim.Receiver[stream.Elem[stream.Tile[T]]]
	out         *sim.Sender[stream.Elem[stream.Tile[T]]]
	fn          MapAccumFunc[T]
	initAccum   InitAccumFunc[T]
	rank        stream.StopLevel
	computeBW   uint64
	writeBackMU bool
	log         *events.Logger
}

// NewBinaryMapAccum monta o ator.
func NewBinaryMapAccum[T stream.Scalar](
	in1, in2 *sim.Receiver[stream.Elem[stream.Tile[T]]],
	out *sim.Sender[stream.Elem[stream.Tile[T]]],
	fn MapAccumFunc[T],
	initAccum InitAccumFunc[T],
	rank stream.StopLevel,
	computeBW uint64,
	writeBackMU bool,
	id uint32,
	log *events.Logger,
) *BinaryMapAccum[T] {
	m := &BinaryMapAccum[T]{
		ctx: sim.NewCtx("BinaryMapAccum", id),
		in1: in1, in2: in2, out: out,
		fn: fn, initAccum: initAccum, rank: rank,
		computeBW: computeBW, writeBackMU: writeBackMU,
		log: log,
	}
	in1.Attach(m.ctx)
	in2.Attach(m.ctx)
	out.Attach(m.ctx)
	return m
}

// Ctx implementa sim.Actor.
func (m *BinaryMapAccum[T]) Ctx() *sim.Ctx { return m.ctx }

// step consome o par corrente, atualizando o acumulador. Quando emit é
// verdadeiro, o acumulador é reinicializado e o resultado devolvido;
// store só entra no roofline no passo de emissão.
func (m *BinaryMapAccum[T]) step(t1, t2 stream.Tile[T], acc *stream.Tile[T], emit, isReductionEnd bool) (stream.Tile[T], error) {
	tm := m.ctx.Time
	load := loadCycles(t1) + loadCycles(t2)
	compCycles, outTile := m.fn(t1, t2, *acc, m.computeBW, m.writeBackMU)

	var store uint64
	if emit {
		*acc = m.initAccum()
		if m.writeBackMU {
			store = divCeil(uint64((*acc).SizeInBytes()), mem.PMUBandwidth)
		}
	} else {
		*acc = outTile
	}

	roofline := max3(load, compCycles, store)
	tm.IncrCycles(roofline)

	if _, err := m.in1.Dequeue(); err != nil {
		return outTile, err
	}
	if _, err := m.in2.Dequeue(); err != nil {
		return outTile, err
	}

	m.log.Log("BinaryMapAccum", m.ctx.ID(), tm.Tick()-roofline, tm.Tick(), emit && !isReductionEnd)
	return outTile, nil
}

// Run processa até ambas as entradas fecharem.
func (m *BinaryMapAccum[T]) Run() error {
	tm := m.ctx.Time
	acc := m.initAccum()
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
		t1, t2, stop := e1.Data.Data, e2.Data.Data, e1.Data.Stop

		switch {
		case stop < m.rank:
			if _, err := m.step(t1, t2, &acc, false, false); err != nil {
				return err
			}
		case stop == m.rank:
			outTile, err := m.step(t1, t2, &acc, true, true)
			if err != nil {
				return err
			}
			if err := m.out.Enqueue(tm.Tick(), stream.Val(outTile)); err != nil {
				return err
			}
		default:
			outTile, err := m.step(t1, t2, &acc, true, false)
			if err != nil {
				return err
			}
			if err := m.out.Enqueue(tm.Tick(), stream.ValStop(outTile, stop-m.rank)); err != nil {
				return err
			}
		}
	}
}
