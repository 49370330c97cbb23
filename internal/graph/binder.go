// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package graph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/op"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// Erros de binding (configuração; sempre fatais).
var (
	ErrUnknownOp = errors.New("graph: operation carries no known op type")
	ErrDType     = errors.New("graph: unsupported dtype for this operation")
	ErrFn        = errors.New("graph: unknown function name")
)

// BindParams são os knobs de simulação que afetam o binding.
type BindParams struct {
	// ChannelDepth é a profundidade default (0 usa sim.DefaultChannelDepth).
	ChannelDepth int
	// DepthOverrides ajusta a profundidade por id de nó produtor.
	DepthOverrides map[uint32]int
	// FunctionalSim liga a propagação de valores reais.
	FunctionalSim bool
	// MockBF16 contabiliza payloads f32 como 2 bytes.
	MockBF16 bool
}

// Bound é o resultado do binding: o contexto HBM já registrado e os
// stores cujos digests o host quer coletar.
type Bound struct {
	HBM    *mem.HBMContext
	Stores map[uint32]*mem.OffChipStore
}

// binder materializa atores mantendo um mapa de canais por tipo de
// payload, chaveado por (produtor, stream opcional).
type binder struct {
	b       *sim.Builder
	hbm     *mem.HBMContext
	hbmCfg  mem.HBMConfig
	params  BindParams
	tensors TensorSource
	log     *events.Logger
	logger  *slog.Logger

	tileF32    ChannelMap[stream.Tile[float32]]
	tileU64    ChannelMap[stream.Tile[uint64]]
	buffF32    ChannelMap[stream.Buffer[stream.Tile[float32]]]
	multiHot   ChannelMap[stream.MultiHot]
	scalarU64  ChannelMap[uint64]
	scalarBool ChannelMap[bool]

	stores map[uint32]*mem.OffChipStore
}

// Bind percorre o grafo e monta o programa no builder. O grafo não é
// modificado.
func Bind(
	prog *Program,
	b *sim.Builder,
	hbmCfg mem.HBMConfig,
	params BindParams,
	tensors TensorSource,
	log *events.Logger,
	logger *slog.Logger,
) (*Bound, error) {
	bd := &binder{
		b:       b,
		hbm:     mem.NewHBMContext(hbmCfg),
		hbmCfg:  hbmCfg,
		params:  params,
		tensors: tensors,
		log:     log,
		logger:  logger,
		stores:  map[uint32]*mem.OffChipStore{},
	}
	for i := range prog.Operations {
		operation := &prog.Operations[i]
		if err := bd.bindOp(operation); err != nil {
			return nil, fmt.Errorf("binding node %d (%s): %w", operation.ID, operation.Name, err)
		}
	}
	for _, ids := range [][]uint32{
		bd.tileF32.Dangling(), bd.tileU64.Dangling(), bd.buffF32.Dangling(),
		bd.multiHot.Dangling(), bd.scalarU64.Dangling(), bd.scalarBool.Dangling(),
	} {
		if len(ids) > 0 {
			return nil, fmt.Errorf("graph: channel endpoints left unconnected for node ids %v", ids)
		}
	}
	b.Add(bd.hbm)
	return &Bound{HBM: bd.hbm, Stores: bd.stores}, nil
}

// depth resolve a profundidade de canal para o produtor id.
func (bd *binder) depth(id uint32) int {
	if d, ok := bd.params.DepthOverrides[id]; ok {
		return d
	}
	return bd.params.ChannelDepth
}

// f32Bytes é a contabilidade de bytes por elemento f32 (2 sob mock bf16).
func (bd *binder) f32Bytes() int {
	if bd.params.MockBF16 {
		return 2
	}
	return 4
}

// tensorF32 resolve o tensor funcional de um load/store f32.
func (bd *binder) tensorF32(shapeTiled []int, tileRow, tileCol int, npyPath string) (*mem.Tensor[float32], error) {
	if !bd.params.FunctionalSim || npyPath == "" {
		return mem.NewTensor[float32](shapeTiled, tileRow, tileCol, bd.f32Bytes(), nil, nil)
	}
	shape, data, err := bd.tensors.Float32(npyPath)
	if err != nil {
		return nil, err
	}
	return mem.NewTensor(shapeTiled, tileRow, tileCol, bd.f32Bytes(), shape, data)
}

// initTileF32 materializa o acumulador inicial de um fold f32.
func (bd *binder) initTileF32(init InitTile) (op.InitAccumFunc[float32], error) {
	rows, cols := init.Rows, init.Cols
	nByte := init.BytesPerElem
	if nByte == 0 {
		nByte = bd.f32Bytes()
	}
	functional := bd.params.FunctionalSim
	switch init.Kind {
	case "zero":
		return func() stream.Tile[float32] {
			if functional {
				return stream.ZeroTile[float32](rows, cols, nByte, true)
			}
			return stream.BlankTile[float32](rows, cols, nByte, true)
		}, nil
	case "empty":
		return func() stream.Tile[float32] {
			if functional {
				return stream.EmptyTile[float32](rows, cols, nByte, true)
			}
			return stream.BlankTile[float32](rows, cols, nByte, true)
		}, nil
	case "blank", "":
		return func() stream.Tile[float32] {
			return stream.BlankTile[float32](rows, cols, nByte, true)
		}, nil
	default:
		return nil, fmt.Errorf("%w: init tile kind %q", ErrFn, init.Kind)
	}
}

// padTileF32 materializa o tile de padding de um reshape.
func (bd *binder) padTileF32(pad *InitTile) (*stream.Tile[float32], error) {
	if pad == nil {
		return nil, nil
	}
	nByte := pad.BytesPerElem
	if nByte == 0 {
		nByte = bd.f32Bytes()
	}
	var t stream.Tile[float32]
	switch pad.Kind {
	case "zero":
		if bd.params.FunctionalSim {
			t = stream.ZeroTilePadded[float32](pad.Rows, pad.Cols, nByte, true, 0)
		} else {
			t = stream.BlankTilePadded[float32](pad.Rows, pad.Cols, nByte, true, 0)
		}
	case "blank", "":
		t = stream.BlankTilePadded[float32](pad.Rows, pad.Cols, nByte, true, 0)
	default:
		return nil, fmt.Errorf("%w: pad tile kind %q", ErrFn, pad.Kind)
	}
	return &t, nil
}

// hbmRead cria o par de canais endereço/resposta e registra o bundle de
// leitura.
func (bd *binder) hbmRead() (*sim.Sender[mem.ParAddrs], *sim.Receiver[uint64]) {
	addrSnd, addrRcv := sim.Unbounded[mem.ParAddrs](bd.b)
	respSnd, respRcv := sim.Unbounded[uint64](bd.b)
	bd.hbm.AddReader(mem.ReadBundle{Addr: addrRcv, Resp: respSnd})
	return addrSnd, respRcv
}

// hbmWrite é o equivalente para escrita.
func (bd *binder) hbmWrite() (*sim.Sender[mem.ParAddrs], *sim.Receiver[uint64]) {
	addrSnd, addrRcv := sim.Unbounded[mem.ParAddrs](bd.b)
	ackSnd, ackRcv := sim.Unbounded[uint64](bd.b)
	bd.hbm.AddWriter(mem.WriteBundle{Addr: addrRcv, Resp: ackSnd})
	return addrSnd, ackRcv
}
