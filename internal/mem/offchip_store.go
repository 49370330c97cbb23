// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mem

import (
	"fmt"
	"math"
	"os"

	"github.com/OneOfOne/xxhash"
	jsoniter "github.com/json-iterator/go"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/npy"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// storeMeta é o sidecar JSON persistido junto do tensor de saída.
type storeMeta struct {
	TiledShape []int `json:"tiled_shape"`
	Shape      []int `json:"shape"`
}

// OffChipStore recebe tiles em ordem de varredura, converte cada um nos
// endereços de escrita e espera os acks do HBM. Em modo funcional,
// remonta o tensor de saída (tiles concatenados na horizontal até cada
// stop, depois na vertical) e o persiste em <path>.npy com o sidecar
// <path>.json na terminação.
type OffChipStore struct {
	ctx *sim.Ctx

	tensorShapeTiled []int
	tileRow, tileCol int
	storePath        string
	baseAddr         uint64
	addrOffset       uint64
	parDispatch      int

	onChip  *sim.Receiver[stream.Elem[stream.Tile[float32]]]
	addrSnd *sim.Sender[ParAddrs]
	ackRcv  *sim.Receiver[uint64]
	log     *events.Logger

	digest uint64
}

// NewOffChipStore monta o ator; storePath vazio desliga a persistência
// funcional.
func NewOffChipStore(
	tensorShapeTiled []int,
	tileRow, tileCol int,
	storePath string,
	baseAddr, addrOffset uint64,
	parDispatch int,
	onChip *sim.Receiver[stream.Elem[stream.Tile[float32]]],
	addrSnd *sim.Sender[ParAddrs],
	ackRcv *sim.Receiver[uint64],
	id uint32,
	log *events.Logger,
) *OffChipStore {
	s := &OffChipStore{
		ctx:              sim.NewCtx("OffChipStore", id),
		tensorShapeTiled: tensorShapeTiled,
		tileRow:          tileRow, tileCol: tileCol,
		storePath: storePath,
		baseAddr:  baseAddr, addrOffset: addrOffset,
		parDispatch: parDispatch,
		onChip:      onChip, addrSnd: addrSnd, ackRcv: ackRcv,
		log: log,
	}
	onChip.Attach(s.ctx)
	addrSnd.Attach(s.ctx)
	ackRcv.Attach(s.ctx)
	return s
}

// Ctx implementa sim.Actor.
func (s *OffChipStore) Ctx() *sim.Ctx { return s.ctx }

// OnChipReqElems é o número de elementos recebidos por tile.
func (s *OffChipStore) OnChipReqElems() int { return s.tileRow * s.tileCol }

// StoredElems é o total de elementos escritos na DRAM.
func (s *OffChipStore) StoredElems() int {
	total := 1
	for _, d := range s.tensorShapeTiled {
		total *= d
	}
	return total * s.tileRow * s.tileCol
}

// Digest devolve o xxhash do tensor funcional persistido (0 em modo
// timing-only).
func (s *OffChipStore) Digest() uint64 { return s.digest }

func (s *OffChipStore) writeTile(tileIdx int, tile stream.Tile[float32]) error {
	tm := s.ctx.Time
	addrs := tileAddrs(s.baseAddr, tileIdx, s.tensorShapeTiled, s.tileRow, s.tileCol, tile.BytesPerElem, s.addrOffset)

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
	s.log.Log("OffChipStore", s.ctx.ID(), sendTime, tm.Tick(), false)
	return nil
}

// persist grava o tensor remontado e o sidecar de metadados.
func (s *OffChipStore) persist(rows [][]float32) error {
	totalCols := s.tileCol * s.tensorShapeTiled[len(s.tensorShapeTiled)-1]
	totalRows := s.tileRow * s.tensorShapeTiled[len(s.tensorShapeTiled)-2]
	shape := append(append([]int{}, s.tensorShapeTiled[:len(s.tensorShapeTiled)-2]...), totalRows, totalCols)

	var flat []float32
	for _, row := range rows {
		flat = append(flat, row...)
	}
	want := s.StoredElems()
	if len(flat) != want {
		return fmt.Errorf("mem: collected %d elements, expected %d", len(flat), want)
	}

	if err := npy.WriteFloat32(s.storePath+".npy", shape, flat); err != nil {
		return fmt.Errorf("writing functional output: %w", err)
	}

	h := xxhash.New64()
	var buf [4]byte
	for _, v := range flat {
		bits := math.Float32bits(v)
		buf[0] = byte(bits)
		buf[1] = byte(bits >> 8)
		buf[2] = byte(bits >> 16)
		buf[3] = byte(bits >> 24)
		h.Write(buf[:])
	}
	s.digest = h.Sum64()

	meta := storeMeta{TiledShape: s.tensorShapeTiled, Shape: shape}
	f, err := os.Create(s.storePath + ".json")
	if err != nil {
		return fmt.Errorf("creating output metadata: %w", err)
	}
	if err := json.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		return fmt.Errorf("writing output metadata: %w", err)
	}
	return f.Close()
}

// Run drena tiles até a entrada fechar.
func (s *OffChipStore) Run() error {
	var (
		rows       [][]float32 // linhas completas já fechadas
		horizontal []float32   // bloco corrente, concatenado à direita
		horizRows  int
		tileIdx    int
	)

	for {
		msg, err := s.onChip.PeekNext()
		if err != nil {
			if s.storePath != "" {
				return s.persist(rows)
			}
			return nil
		}
		tile := msg.Data.Data
		if tile.Rows != s.tileRow || tile.Cols != s.tileCol {
			return fmt.Errorf("mem: tile shape [%d,%d] does not match store tiling [%d,%d]", tile.Rows, tile.Cols, s.tileRow, s.tileCol)
		}

		if s.storePath != "" {
			if !tile.Functional() {
				return fmt.Errorf("mem: functional store received a timing-only tile")
			}
			if horizontal == nil {
				horizRows = tile.Rows
				horizontal = []float32{}
			}
			horizontal = concatCols(horizontal, horizRows, tile)
			if msg.Data.IsStop() {
				cols := len(horizontal) / horizRows
				for r := 0; r < horizRows; r++ {
					rows = append(rows, horizontal[r*cols:(r+1)*cols])
				}
				horizontal = nil
			}
		}

		if err := s.writeTile(tileIdx, tile); err != nil {
			return err
		}
		tileIdx++

		if _, err := s.onChip.Dequeue(); err != nil {
			return err
		}
	}
}

// concatCols acrescenta o tile à direita do bloco horizontal corrente.
func concatCols(block []float32, rows int, tile stream.Tile[float32]) []float32 {
	oldCols := 0
	if rows > 0 {
		oldCols = len(block) / rows
	}
	newCols := oldCols + tile.Cols
	out := make([]float32, rows*newCols)
	for r := 0; r < rows; r++ {
		copy(out[r*newCols:r*newCols+oldCols], block[r*oldCols:(r+1)*oldCols])
		copy(out[r*newCols+oldCols:(r+1)*newCols], tile.Data[r*tile.Cols:(r+1)*tile.Cols])
	}
	return out
}
