// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mem

import (
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// MetadataGen reproduz um tensor pequeno de metadados (índices de
// expert, comprimentos de sequência) como um stream de tiles 1x1 u64,
// um por ciclo, com os stop tokens da estrutura do tensor.
type MetadataGen struct {
	ctx   *sim.Ctx
	shape []int
	data  []uint64
	snd   *sim.Sender[stream.Elem[stream.Tile[uint64]]]
}

// NewMetadataGen monta o gerador a partir do tensor já decodificado.
func NewMetadataGen(shape []int, data []uint64, snd *sim.Sender[stream.Elem[stream.Tile[uint64]]], id uint32) *MetadataGen {
	g := &MetadataGen{ctx: sim.NewCtx("MetadataGen", id), shape: shape, data: data, snd: snd}
	snd.Attach(g.ctx)
	return g
}

// Ctx implementa sim.Actor.
func (g *MetadataGen) Ctx() *sim.Ctx { return g.ctx }

// Run emite o tensor inteiro e encerra.
func (g *MetadataGen) Run() error {
	start := g.ctx.Time.Tick()
	for i, val := range g.data {
		tile := stream.NewTile(1, 1, []uint64{val}, 8, false)
		var elem stream.Elem[stream.Tile[uint64]]
		if len(g.shape) == 1 {
			if i == len(g.data)-1 {
				elem = stream.ValStop(tile, 1)
			} else {
				elem = stream.Val(tile)
			}
		} else {
			multi := multiIndex(i, g.shape)
			elem = stream.Elem[stream.Tile[uint64]]{Data: tile, Stop: stopLevelFor(multi, g.shape)}
		}
		if err := g.snd.Enqueue(start+sim.Cycle(i), elem); err != nil {
			return err
		}
	}
	return nil
}
