// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mem

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/npy"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// RandomOffChipStore grava tiles em posições dirigidas por um stream de
// endereços: para cada par (waddr, wdata) emite as escritas ao HBM,
// espera os acks e confirma no stream wack. O stop do ack vem do waddr
// ou do wdata, conforme ack_based_on_waddr. Em modo funcional, os tiles
// são espalhados no tensor de fundo, persistido na terminação.
type RandomOffChipStore struct {
	ctx *sim.Ctx

	tensor          *Tensor[float32]
	npyPath         string
	baseAddr        uint64
	addrOffset      uint64
	parDispatch     int
	ackBasedOnWaddr bool

	addrSnd *sim.Sender[ParAddrs]
	ackRcv  *sim.Receiver[uint64]
	waddr   *sim.Receiver[stream.Elem[stream.Tile[uint64]]]
	wdata   *sim.Receiver[stream.Elem[stream.Tile[float32]]]
	wack    *sim.Sender[stream.Elem[bool]]
	log     *events.Logger
}

// NewRandomOffChipStore monta o ator. Só tensores 2D (em tiles) são
// suportados.
func NewRandomOffChipStore(
	tensor *Tensor[float32],
	npyPath string,
	baseAddr, addrOffset uint64,
	parDispatch int,
	addrSnd *sim.Sender[ParAddrs],
	ackRcv *sim.Receiver[uint64],
	waddr *sim.Receiver[stream.Elem[stream.Tile[uint64]]],
	wdata *sim.Receiver[stream.Elem[stream.Tile[float32]]],
	wack *sim.Sender[stream.Elem[bool]],
	ackBasedOnWaddr bool,
	id uint32,
	log *events.Logger,
) (*RandomOffChipStore, error) {
	if len(tensor.ShapeTiled) != 2 {
		return nil, fmt.Errorf("mem: random store supports 2D tiled tensors, got %v", tensor.ShapeTiled)
	}
	s := &RandomOffChipStore{
		ctx:     sim.NewCtx("RandomOffChipStore", id),
		tensor:  tensor,
		npyPath: npyPath,
		baseAddr: baseAddr, addrOffset: addrOffset,
		parDispatch:     parDispatch,
		ackBasedOnWaddr: ackBasedOnWaddr,
		addrSnd:         addrSnd, ackRcv: ackRcv,
		waddr: waddr, wdata: wdata, wack: wack,
		log: log,
	}
	addrSnd.Attach(s.ctx)
	ackRcv.Attach(s.ctx)
	waddr.Attach(s.ctx)
	wdata.Attach(s.ctx)
	wack.Attach(s.ctx)
	return s, nil
}

// Ctx implementa sim.Actor.
func (s *RandomOffChipStore) Ctx() *sim.Ctx { return s.ctx }

func (s *RandomOffChipStore) sendWrite(tileIdx uint64, tile stream.Tile[float32]) error {
	tm := s.ctx.Time
	addrs := tileAddrs(s.baseAddr, int(tileIdx), s.tensor.ShapeTiled, s.tensor.TileRow, s.tensor.TileCol, tile.BytesPerElem, s.addrOffset)
	sendTime := tm.Tick()
	for i := 0; i < len(addrs); i += s.parDispatch {
		end := i + s.parDispatch
		if end > len(addrs) {
			end = len(addrs)
		}
		chunk := ParAddrs(append([]uint64{}, addrs[i:end]...))
		if err := s.addrSnd.Enqueue(sendTime+sim.Cycle(i/s.parDispatch), chunk); err != nil {
			return err
		}
	}
	for range addrs {
		if _, err := s.ackRcv.Dequeue(); err != nil {
			return err
		}
	}
	s.log.Log("RandomOffChipStore", s.ctx.ID(), sendTime, tm.Tick(), false)
	return nil
}

// scatter grava o tile funcional na posição tileIdx do tensor de fundo.
func (s *RandomOffChipStore) scatter(tileIdx uint64, tile stream.Tile[float32]) {
	if s.tensor.Data == nil || !tile.Functional() {
		return
	}
	colTiles := s.tensor.ShapeTiled[1]
	totalCols := s.tensor.TileCol * colTiles
	tr := int(tileIdx) / colTiles
	tc := int(tileIdx) % colTiles
	base := tr*s.tensor.TileRow*totalCols + tc*s.tensor.TileCol
	for r := 0; r < tile.Rows; r++ {
		copy(s.tensor.Data[base+r*totalCols:base+r*totalCols+tile.Cols], tile.Data[r*tile.Cols:(r+1)*tile.Cols])
	}
}

// Run processa pares até ambas as entradas fecharem.
func (s *RandomOffChipStore) Run() error {
	tm := s.ctx.Time
	for {
		addrMsg, err1 := s.waddr.PeekNext()
		dataMsg, err2 := s.wdata.PeekNext()
		switch {
		case err1 != nil && err2 != nil:
			if s.npyPath != "" && s.tensor.Data != nil {
				if err := npy.WriteFloat32(s.npyPath+".npy", s.tensor.Shape, s.tensor.Data); err != nil {
					return fmt.Errorf("persisting random store tensor: %w", err)
				}
			}
			return nil
		case err1 != nil || err2 != nil:
			return fmt.Errorf("mem: waddr and wdata streams must have the same shape")
		}

		addrTile := addrMsg.Data.Data
		if !addrTile.Functional() {
			return fmt.Errorf("mem: random store address tile must carry a value")
		}
		tileIdx := addrTile.At(0, 0)
		tile := dataMsg.Data.Data

		if err := s.sendWrite(tileIdx, tile); err != nil {
			return err
		}
		s.scatter(tileIdx, tile)

		ackStop := dataMsg.Data.Stop
		if s.ackBasedOnWaddr {
			ackStop = addrMsg.Data.Stop
		}
		if err := s.wack.Enqueue(tm.Tick(), stream.Elem[bool]{Data: true, Stop: ackStop}); err != nil {
			return err
		}

		if _, err := s.waddr.Dequeue(); err != nil {
			return err
		}
		if _, err := s.wdata.Dequeue(); err != nil {
			return err
		}
	}
}
