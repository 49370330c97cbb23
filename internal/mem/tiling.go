// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mem

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Tensor é um tensor funcional residente "na DRAM": forma destilada em
// tiles, forma real e dados achatados em row-major. Data nil indica
// modo timing-only (os atores emitem tiles blank).
type Tensor[T stream.Scalar] struct {
	ShapeTiled []int
	TileRow    int
	TileCol    int
	NByte      int
	Shape      []int
	Data       []T

	rowTiles int
	colTiles int
	outer    int
}

// NewTensor valida que a forma real corresponde à forma em tiles.
// data == nil é aceito (timing-only).
func NewTensor[T stream.Scalar](shapeTiled []int, tileRow, tileCol, nByte int, shape []int, data []T) (*Tensor[T], error) {
	t := &Tensor[T]{
		ShapeTiled: shapeTiled,
		TileRow:    tileRow, TileCol: tileCol, NByte: nByte,
		Shape: shape, Data: data,
	}
	t.rowTiles = shapeTiled[len(shapeTiled)-2]
	t.colTiles = shapeTiled[len(shapeTiled)-1]
	t.outer = 1
	for _, d := range shapeTiled[:len(shapeTiled)-2] {
		t.outer *= d
	}
	if data != nil {
		wantRows := tileRow * t.rowTiles
		wantCols := tileCol * t.colTiles
		want := append(append([]int{}, shapeTiled[:len(shapeTiled)-2]...), wantRows, wantCols)
		if len(shape) != len(want) {
			return nil, fmt.Errorf("mem: tensor shape %v does not match tiled shape %v", shape, shapeTiled)
		}
		for i := range want {
			if shape[i] != want[i] {
				return nil, fmt.Errorf("mem: tensor shape %v does not match tiled shape %v", shape, shapeTiled)
			}
		}
	}
	return t, nil
}

// NumTiles é o total de tiles do tensor.
func (t *Tensor[T]) NumTiles() int {
	return t.outer * t.rowTiles * t.colTiles
}

// Tile extrai o tile de índice plano idx (row-major sobre a grade de
// tiles). Sem dados, devolve um tile blank marcado read_from_mu.
func (t *Tensor[T]) Tile(idx int) stream.Tile[T] {
	if t.Data == nil {
		return stream.BlankTile[T](t.TileRow, t.TileCol, t.NByte, true)
	}
	perPlane := t.rowTiles * t.colTiles
	plane := idx / perPlane
	within := idx % perPlane
	tr := within / t.colTiles
	tc := within % t.colTiles

	totalCols := t.TileCol * t.colTiles
	planeElems := t.TileRow * t.rowTiles * totalCols
	base := plane*planeElems + tr*t.TileRow*totalCols + tc*t.TileCol

	out := make([]T, t.TileRow*t.TileCol)
	for r := 0; r < t.TileRow; r++ {
		copy(out[r*t.TileCol:(r+1)*t.TileCol], t.Data[base+r*totalCols:base+r*totalCols+t.TileCol])
	}
	return stream.NewTile(t.TileRow, t.TileCol, out, t.NByte, true)
}

// tileAddrs gera os endereços de byte que cobrem o tile idx, varrendo
// as linhas com passo addrOffset.
func tileAddrs(baseAddr uint64, tileIdx int, shapeTiled []int, tileRow, tileCol, nByte int, addrOffset uint64) []uint64 {
	tileBytes := tileRow * tileCol * nByte
	base := baseAddr + uint64(tileIdx*tileBytes)
	rowOffset := shapeTiled[len(shapeTiled)-1] * tileCol * nByte

	var addrs []uint64
	for r := 0; r < tileRow; r++ {
		for c := 0; c < tileCol*nByte; c += int(addrOffset) {
			addrs = append(addrs, base+uint64(r*rowOffset+c))
		}
	}
	return addrs
}

// multiIndex converte um índice plano no multi-índice row-major.
func multiIndex(flat int, shape []int) []int {
	idx := make([]int, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		idx[d] = flat % shape[d]
		flat /= shape[d]
	}
	return idx
}

// stopLevelFor calcula o stop token mais alto fechado na posição dada:
// da dimensão interna para a externa, acumulando a flag de "todas as
// internas no fim"; dimensões de tamanho 1 contam como no fim.
func stopLevelFor(multi, shape []int) stream.StopLevel {
	var level stream.StopLevel
	allInnerAtEnd := true
	for dim := len(shape) - 1; dim >= 0; dim-- {
		if !allInnerAtEnd {
			break
		}
		isSizeOne := shape[dim] == 1
		isLast := multi[dim] == shape[dim]-1
		if isLast || isSizeOne {
			level = stream.StopLevel(len(shape) - dim)
		}
		allInnerAtEnd = isLast
	}
	return level
}

// viewTileIndex aplica a view por strides: índice de tile fonte para a
// posição multi da forma de saída, com módulo sobre o total de tiles
// (stride 0 implementa broadcast).
func viewTileIndex(multi, stride []int, totalTiles int) int {
	idx := 0
	for d, m := range multi {
		idx += m * stride[d]
	}
	if totalTiles > 0 {
		idx %= totalTiles
	} else {
		idx = 0
	}
	return idx
}
