// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package graph

import (
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/mem"
	"github.com/nishisan-dev/step-sim/internal/op"
	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// rcvOf e sndOf encapsulam o acesso ao mapa tipado com a profundidade
// resolvida pelo id do produtor.
func rcvOf[T any](cm *ChannelMap[T], bd *binder, ref StreamRef) (*sim.Receiver[stream.Elem[T]], error) {
	return cm.Receiver(ref.ID, ref.StreamIdx, bd.b, bd.depth(ref.ID))
}

func sndOf[T any](cm *ChannelMap[T], bd *binder, id uint32, idx *uint32) (*sim.Sender[stream.Elem[T]], error) {
	return cm.Sender(id, idx, bd.b, bd.depth(id))
}

func streamIdx(i uint32) *uint32 { return &i }

// bindOp despacha a operação para o construtor do seu tipo.
func (bd *binder) bindOp(operation *Operation) error {
	switch {
	case operation.UnaryMap != nil:
		return bd.bindUnaryMap(operation)
	case operation.BinaryMap != nil:
		return bd.bindBinaryMap(operation)
	case operation.BinaryMapAccum != nil:
		return bd.bindBinaryMapAccum(operation)
	case operation.Accum != nil:
		return bd.bindAccum(operation)
	case operation.OffChipLoad != nil:
		return bd.bindOffChipLoad(operation)
	case operation.OffChipStore != nil:
		return bd.bindOffChipStore(operation)
	case operation.RandomOffChipLoad != nil:
		return bd.bindRandomOffChipLoad(operation)
	case operation.RandomOffChipStore != nil:
		return bd.bindRandomOffChipStore(operation)
	case operation.DynOffChipLoad != nil:
		return bd.bindDynOffChipLoad(operation)
	case operation.MetadataGen != nil:
		return bd.bindMetadataGen(operation)
	case operation.ExpertAddrGen != nil:
		return bd.bindExpertAddrGen(operation)
	case operation.CacheReadAddrGen != nil:
		return bd.bindCacheReadAddrGen(operation)
	case operation.FilterLastTile != nil:
		return bd.bindFilterLastTile(operation)
	case operation.SelectGen != nil:
		return bd.bindSelectGen(operation)
	case operation.FlatPartition != nil:
		return bd.bindFlatPartition(operation)
	case operation.FlatReassemble != nil:
		return bd.bindFlatReassemble(operation)
	case operation.Parallelize != nil:
		return bd.bindParallelize(operation)
	case operation.EagerMerge != nil:
		return bd.bindEagerMerge(operation)
	case operation.Broadcast != nil:
		return bd.bindBroadcast(operation)
	case operation.Bufferize != nil:
		return bd.bindBufferize(operation)
	case operation.Streamify != nil:
		return bd.bindStreamify(operation)
	case operation.DynStreamify != nil:
		return bd.bindDynStreamify(operation)
	case operation.Promote != nil:
		return bd.bindPromote(operation)
	case operation.Flatten != nil:
		return bd.bindFlatten(operation)
	case operation.Reshape != nil:
		return bd.bindReshape(operation)
	case operation.RepeatStatic != nil:
		return bd.bindRepeatStatic(operation)
	case operation.ExpandRef != nil:
		return bd.bindExpandRef(operation)
	case operation.RetileStreamify != nil:
		return bd.bindRetileStreamify(operation)
	case operation.Consumer != nil:
		return bd.bindConsumer(operation)
	case operation.Printer != nil:
		return bd.bindPrinter(operation)
	}
	return ErrUnknownOp
}

func (bd *binder) bindUnaryMap(operation *Operation) error {
	o := operation.UnaryMap
	if o.DType != DTypeF32 {
		return fmt.Errorf("%w: unary map over %s", ErrDType, o.DType)
	}
	in, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	var fn op.UnaryMapFunc[float32]
	switch o.Fn {
	case "silu":
		fn = op.SiLU
	case "exp":
		fn = op.Exp
	case "row_wise_sum":
		fn = op.RowWiseSum[float32]
	default:
		return fmt.Errorf("%w: unary map fn %q", ErrFn, o.Fn)
	}
	bd.b.Add(op.NewUnaryMap(in, out, fn, o.ComputeBW, o.WriteBackMU, operation.ID, bd.log))
	return nil
}

func (bd *binder) bindBinaryMap(operation *Operation) error {
	o := operation.BinaryMap
	switch {
	case o.DType1 == DTypeF32 && o.DType2 == DTypeF32:
		in1, err := rcvOf(&bd.tileF32, bd, o.In1)
		if err != nil {
			return err
		}
		in2, err := rcvOf(&bd.tileF32, bd, o.In2)
		if err != nil {
			return err
		}
		out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
		if err != nil {
			return err
		}
		var fn op.BinaryMapFunc[float32, float32]
		switch o.Fn {
		case "matmul", "dyn_matmul":
			fn = op.Matmul[float32](o.WeightTransposed)
		case "mul":
			fn = op.Mul[float32]()
		case "add":
			fn = op.Add[float32]()
		case "div":
			fn = op.Div[float32]()
		case "row_wise_append":
			fn = op.RowWiseAppend
		default:
			return fmt.Errorf("%w: binary map fn %q over f32", ErrFn, o.Fn)
		}
		bd.b.Add(op.NewBinaryMap(in1, in2, out, fn, o.ComputeBW, o.WriteBackMU, operation.ID, bd.log))
		return nil

	case o.DType1 == DTypeU64 && o.DType2 == DTypeU64:
		in1, err := rcvOf(&bd.tileU64, bd, o.In1)
		if err != nil {
			return err
		}
		in2, err := rcvOf(&bd.tileU64, bd, o.In2)
		if err != nil {
			return err
		}
		out, err := sndOf(&bd.tileU64, bd, operation.ID, nil)
		if err != nil {
			return err
		}
		var fn op.BinaryMapFunc[uint64, uint64]
		switch o.Fn {
		case "cache_write_addr_gen":
			fn = op.CacheWriteAddrGen(o.OffsetPerIdx)
		case "add":
			fn = op.Add[uint64]()
		case "mul":
			fn = op.Mul[uint64]()
		default:
			return fmt.Errorf("%w: binary map fn %q over u64", ErrFn, o.Fn)
		}
		bd.b.Add(op.NewBinaryMap(in1, in2, out, fn, o.ComputeBW, o.WriteBackMU, operation.ID, bd.log))
		return nil

	case o.DType1 == DTypeF32 && o.DType2 == DTypeU64:
		in1, err := rcvOf(&bd.tileF32, bd, o.In1)
		if err != nil {
			return err
		}
		in2, err := rcvOf(&bd.tileU64, bd, o.In2)
		if err != nil {
			return err
		}
		out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
		if err != nil {
			return err
		}
		if o.Fn != "set_offset" {
			return fmt.Errorf("%w: binary map fn %q over f32/u64", ErrFn, o.Fn)
		}
		bd.b.Add(op.NewBinaryMap(in1, in2, out, op.SetOffset, o.ComputeBW, o.WriteBackMU, operation.ID, bd.log))
		return nil
	}
	return fmt.Errorf("%w: binary map over %s/%s", ErrDType, o.DType1, o.DType2)
}

func (bd *binder) bindBinaryMapAccum(operation *Operation) error {
	o := operation.BinaryMapAccum
	in1, err := rcvOf(&bd.tileF32, bd, o.In1)
	if err != nil {
		return err
	}
	in2, err := rcvOf(&bd.tileF32, bd, o.In2)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	var fn op.MapAccumFunc[float32]
	switch o.Fn {
	case "matmul":
		fn = op.MapAccumMatmul[float32](o.WeightTransposed)
	case "dyn_matmul":
		fn = op.MapAccumDynMatmul[float32](o.WeightTransposed)
	default:
		return fmt.Errorf("%w: map accum fn %q", ErrFn, o.Fn)
	}
	initAccum, err := bd.initTileF32(o.Init)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewBinaryMapAccum(in1, in2, out, fn, initAccum, o.Rank, o.ComputeBW, o.WriteBackMU, operation.ID, bd.log))
	return nil
}

func (bd *binder) bindAccum(operation *Operation) error {
	o := operation.Accum
	switch {
	case o.DTypeA == DTypeF32 && o.DTypeB == DTypeF32:
		in, err := rcvOf(&bd.tileF32, bd, o.Input)
		if err != nil {
			return err
		}
		out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
		if err != nil {
			return err
		}
		var fn op.AccumFunc[float32, float32]
		switch o.Fn {
		case "add":
			fn = op.AccumAdd[float32]()
		case "mul":
			fn = op.AccumMul[float32]()
		case "retile_row":
			fn = op.RetileRow[float32]
		case "retile_col":
			fn = op.RetileCol[float32]
		default:
			return fmt.Errorf("%w: accum fn %q over f32", ErrFn, o.Fn)
		}
		initAccum, err := bd.initTileF32(o.Init)
		if err != nil {
			return err
		}
		bd.b.Add(op.NewAccum(in, out, fn, initAccum, o.Rank, o.ComputeBW, o.WriteBackMU, operation.ID, bd.log))
		return nil

	case o.DTypeA == DTypeF32 && o.DTypeB == DTypeU64:
		in, err := rcvOf(&bd.tileF32, bd, o.Input)
		if err != nil {
			return err
		}
		out, err := sndOf(&bd.tileU64, bd, operation.ID, nil)
		if err != nil {
			return err
		}
		if o.Fn != "signal_req_all_read" {
			return fmt.Errorf("%w: accum fn %q over f32/u64", ErrFn, o.Fn)
		}
		initAccum := func() stream.Tile[uint64] { return stream.BlankTile[uint64](1, 1, 8, true) }
		bd.b.Add(op.NewAccum(in, out, op.SignalReqAllRead, initAccum, o.Rank, o.ComputeBW, o.WriteBackMU, operation.ID, bd.log))
		return nil
	}
	return fmt.Errorf("%w: accum over %s/%s", ErrDType, o.DTypeA, o.DTypeB)
}

func (bd *binder) bindOffChipLoad(operation *Operation) error {
	o := operation.OffChipLoad
	if o.DType != DTypeF32 {
		return fmt.Errorf("%w: off-chip load over %s", ErrDType, o.DType)
	}
	tensor, err := bd.tensorF32(o.TensorShapeTiled, o.TileRow, o.TileCol, o.NpyPath)
	if err != nil {
		return err
	}
	onChip, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	addrSnd, respRcv := bd.hbmRead()
	load, err := mem.NewOffChipLoad(tensor, o.Stride, o.OutShapeTiled, o.BaseAddr, bd.hbmCfg.AddrOffset, o.ParDispatch, addrSnd, respRcv, onChip, operation.ID, bd.log)
	if err != nil {
		return err
	}
	bd.b.Add(load)
	return nil
}

func (bd *binder) bindOffChipStore(operation *Operation) error {
	o := operation.OffChipStore
	if o.DType != DTypeF32 {
		return fmt.Errorf("%w: off-chip store over %s", ErrDType, o.DType)
	}
	onChip, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	addrSnd, ackRcv := bd.hbmWrite()
	storePath := ""
	if bd.params.FunctionalSim {
		storePath = o.StorePath
	}
	store := mem.NewOffChipStore(o.TensorShapeTiled, o.TileRow, o.TileCol, storePath, o.BaseAddr, bd.hbmCfg.AddrOffset, o.ParDispatch, onChip, addrSnd, ackRcv, operation.ID, bd.log)
	bd.stores[operation.ID] = store
	bd.b.Add(store)
	return nil
}

func (bd *binder) bindRandomOffChipLoad(operation *Operation) error {
	o := operation.RandomOffChipLoad
	if o.DType != DTypeF32 {
		return fmt.Errorf("%w: random off-chip load over %s", ErrDType, o.DType)
	}
	tensor, err := bd.tensorF32(o.TensorShapeTiled, o.TileRow, o.TileCol, o.NpyPath)
	if err != nil {
		return err
	}
	raddr, err := rcvOf(&bd.tileU64, bd, o.Raddr)
	if err != nil {
		return err
	}
	rdata, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	addrSnd, respRcv := bd.hbmRead()
	bd.b.Add(mem.NewRandomOffChipLoad(tensor, o.BaseAddr, bd.hbmCfg.AddrOffset, o.ParDispatch, addrSnd, respRcv, raddr, rdata, operation.ID, bd.log))
	return nil
}

func (bd *binder) bindRandomOffChipStore(operation *Operation) error {
	o := operation.RandomOffChipStore
	var tensor *mem.Tensor[float32]
	var err error
	if bd.params.FunctionalSim {
		// O tensor de fundo precisa existir para o scatter, mesmo que o
		// arquivo ainda não: aloca zerado no tamanho declarado.
		rows := o.TileRow * o.TensorShapeTiled[0]
		cols := o.TileCol * o.TensorShapeTiled[1]
		tensor, err = mem.NewTensor(o.TensorShapeTiled, o.TileRow, o.TileCol, bd.f32Bytes(), []int{rows, cols}, make([]float32, rows*cols))
	} else {
		tensor, err = mem.NewTensor[float32](o.TensorShapeTiled, o.TileRow, o.TileCol, bd.f32Bytes(), nil, nil)
	}
	if err != nil {
		return err
	}
	waddr, err := rcvOf(&bd.tileU64, bd, o.Waddr)
	if err != nil {
		return err
	}
	wdata, err := rcvOf(&bd.tileF32, bd, o.Wdata)
	if err != nil {
		return err
	}
	wack, err := sndOf(&bd.scalarBool, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	addrSnd, ackRcv := bd.hbmWrite()
	npyPath := ""
	if bd.params.FunctionalSim {
		npyPath = o.NpyPath
	}
	store, err := mem.NewRandomOffChipStore(tensor, npyPath, o.BaseAddr, bd.hbmCfg.AddrOffset, o.ParDispatch, addrSnd, ackRcv, waddr, wdata, wack, o.AckBasedOnWaddr, operation.ID, bd.log)
	if err != nil {
		return err
	}
	bd.b.Add(store)
	return nil
}

func (bd *binder) bindDynOffChipLoad(operation *Operation) error {
	o := operation.DynOffChipLoad
	if o.DType != DTypeF32 {
		return fmt.Errorf("%w: dyn off-chip load over %s", ErrDType, o.DType)
	}
	tensor, err := bd.tensorF32(o.TensorShapeTiled, o.TileRow, o.TileCol, o.NpyPath)
	if err != nil {
		return err
	}
	onChip, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	addrSnd, respRcv := bd.hbmRead()
	switch o.RefDType {
	case DTypeF32:
		ref, err := rcvOf(&bd.tileF32, bd, o.Ref)
		if err != nil {
			return err
		}
		bd.b.Add(mem.NewDynOffChipLoad(tensor, o.Stride, o.OutShapeTiled, o.BaseAddr, bd.hbmCfg.AddrOffset, o.ParDispatch, ref, addrSnd, respRcv, onChip, operation.ID, bd.log))
	case DTypeMultiHot:
		ref, err := rcvOf(&bd.multiHot, bd, o.Ref)
		if err != nil {
			return err
		}
		bd.b.Add(mem.NewDynOffChipLoad(tensor, o.Stride, o.OutShapeTiled, o.BaseAddr, bd.hbmCfg.AddrOffset, o.ParDispatch, ref, addrSnd, respRcv, onChip, operation.ID, bd.log))
	default:
		return fmt.Errorf("%w: dyn load ref over %s", ErrDType, o.RefDType)
	}
	return nil
}

func (bd *binder) bindMetadataGen(operation *Operation) error {
	o := operation.MetadataGen
	shape, data, err := bd.tensors.Uint64(o.NpyPath)
	if err != nil {
		return err
	}
	snd, err := sndOf(&bd.tileU64, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(mem.NewMetadataGen(shape, data, snd, operation.ID))
	return nil
}

func (bd *binder) bindExpertAddrGen(operation *Operation) error {
	o := operation.ExpertAddrGen
	in, err := rcvOf(&bd.multiHot, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileU64, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewExpertAddrGen(in, out, o.NumTilePerExpert, o.ExpertAddrBase, operation.ID))
	return nil
}

func (bd *binder) bindCacheReadAddrGen(operation *Operation) error {
	o := operation.CacheReadAddrGen
	idx, err := rcvOf(&bd.tileU64, bd, o.Idx)
	if err != nil {
		return err
	}
	seqLen, err := rcvOf(&bd.tileU64, bd, o.SeqLen)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileU64, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewCacheReadAddrGen(idx, seqLen, out, o.OffsetPerIdx, operation.ID))
	return nil
}

func (bd *binder) bindFilterLastTile(operation *Operation) error {
	o := operation.FilterLastTile
	seqLen, err := rcvOf(&bd.tileU64, bd, o.SeqLen)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.multiHot, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewFilterLastTile(seqLen, out, operation.ID))
	return nil
}

func (bd *binder) bindSelectGen(operation *Operation) error {
	o := operation.SelectGen
	if !o.IsMultiHot {
		return fmt.Errorf("%w: select gen only supports multi-hot tensors", ErrDType)
	}
	shape, bits, err := bd.tensors.Bool(o.NpyPath)
	if err != nil {
		return err
	}
	elems, err := multiHotElems(shape, bits)
	if err != nil {
		return err
	}
	snd, err := sndOf(&bd.multiHot, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewGenerator(snd, elems, operation.ID))
	return nil
}

func (bd *binder) bindFlatPartition(operation *Operation) error {
	o := operation.FlatPartition
	sel, err := rcvOf(&bd.multiHot, bd, o.Sel)
	if err != nil {
		return err
	}
	switch o.DType {
	case DTypeF32:
		return bindPartitionTyped(bd, operation, o, &bd.tileF32, sel)
	case DTypeU64:
		return bindPartitionTyped(bd, operation, o, &bd.tileU64, sel)
	case DTypeMultiHot:
		in, err := rcvOf(&bd.multiHot, bd, o.Input)
		if err != nil {
			return err
		}
		outs := make([]*sim.Sender[stream.Elem[stream.MultiHot]], o.NumOutputs)
		for i := range outs {
			if outs[i], err = sndOf(&bd.multiHot, bd, operation.ID, streamIdx(uint32(i))); err != nil {
				return err
			}
		}
		bd.b.Add(op.NewFlatPartition(in, sel, outs, o.PartitionRank, o.SwitchCycles, o.WriteBackMU, operation.ID, bd.log))
		return nil
	}
	return fmt.Errorf("%w: flat partition over %s", ErrDType, o.DType)
}

// bindPartitionTyped cobre os payloads de tile.
func bindPartitionTyped[T stream.Scalar](bd *binder, operation *Operation, o *FlatPartitionOp, cm *ChannelMap[stream.Tile[T]], sel *sim.Receiver[stream.Elem[stream.MultiHot]]) error {
	in, err := rcvOf(cm, bd, o.Input)
	if err != nil {
		return err
	}
	outs := make([]*sim.Sender[stream.Elem[stream.Tile[T]]], o.NumOutputs)
	for i := range outs {
		if outs[i], err = sndOf(cm, bd, operation.ID, streamIdx(uint32(i))); err != nil {
			return err
		}
	}
	bd.b.Add(op.NewFlatPartition(in, sel, outs, o.PartitionRank, o.SwitchCycles, o.WriteBackMU, operation.ID, bd.log))
	return nil
}

func (bd *binder) bindFlatReassemble(operation *Operation) error {
	o := operation.FlatReassemble
	sel, err := rcvOf(&bd.multiHot, bd, o.Sel)
	if err != nil {
		return err
	}
	switch o.DType {
	case DTypeF32:
		return bindReassembleTyped(bd, operation, o, &bd.tileF32, sel)
	case DTypeU64:
		return bindReassembleTyped(bd, operation, o, &bd.tileU64, sel)
	case DTypeMultiHot:
		ins := make([]*sim.Receiver[stream.Elem[stream.MultiHot]], len(o.Inputs))
		for i, ref := range o.Inputs {
			if ins[i], err = rcvOf(&bd.multiHot, bd, ref); err != nil {
				return err
			}
		}
		out, err := sndOf(&bd.multiHot, bd, operation.ID, nil)
		if err != nil {
			return err
		}
		bd.b.Add(op.NewFlatReassemble(ins, sel, out, o.ReassembleRank, o.SwitchCycles, o.WriteBackMU, operation.ID, bd.log))
		return nil
	}
	return fmt.Errorf("%w: flat reassemble over %s", ErrDType, o.DType)
}

func bindReassembleTyped[T stream.Scalar](bd *binder, operation *Operation, o *FlatReassembleOp, cm *ChannelMap[stream.Tile[T]], sel *sim.Receiver[stream.Elem[stream.MultiHot]]) error {
	ins := make([]*sim.Receiver[stream.Elem[stream.Tile[T]]], len(o.Inputs))
	var err error
	for i, ref := range o.Inputs {
		if ins[i], err = rcvOf(cm, bd, ref); err != nil {
			return err
		}
	}
	out, err := sndOf(cm, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewFlatReassemble(ins, sel, out, o.ReassembleRank, o.SwitchCycles, o.WriteBackMU, operation.ID, bd.log))
	return nil
}

func (bd *binder) bindParallelize(operation *Operation) error {
	o := operation.Parallelize
	switch o.DType {
	case DTypeF32:
		return bindParallelizeTyped(bd, operation, o, &bd.tileF32)
	case DTypeU64:
		return bindParallelizeTyped(bd, operation, o, &bd.tileU64)
	case DTypeMultiHot:
		in, err := rcvOf(&bd.multiHot, bd, o.Input)
		if err != nil {
			return err
		}
		outs := make([]*sim.Sender[stream.Elem[stream.MultiHot]], o.NumOutputs)
		for i := range outs {
			if outs[i], err = sndOf(&bd.multiHot, bd, operation.ID, streamIdx(uint32(i))); err != nil {
				return err
			}
		}
		bd.b.Add(op.NewParallelize(in, outs, o.PartitionRank, o.SwitchCycles, operation.ID))
		return nil
	}
	return fmt.Errorf("%w: parallelize over %s", ErrDType, o.DType)
}

func bindParallelizeTyped[T stream.Scalar](bd *binder, operation *Operation, o *ParallelizeOp, cm *ChannelMap[stream.Tile[T]]) error {
	in, err := rcvOf(cm, bd, o.Input)
	if err != nil {
		return err
	}
	outs := make([]*sim.Sender[stream.Elem[stream.Tile[T]]], o.NumOutputs)
	for i := range outs {
		if outs[i], err = sndOf(cm, bd, operation.ID, streamIdx(uint32(i))); err != nil {
			return err
		}
	}
	bd.b.Add(op.NewParallelize(in, outs, o.PartitionRank, o.SwitchCycles, operation.ID))
	return nil
}

// bindEagerMerge expõe a saída de dados como stream 0 do nó e o stream
// de seleção como stream 1.
func (bd *binder) bindEagerMerge(operation *Operation) error {
	o := operation.EagerMerge
	sel, err := sndOf(&bd.multiHot, bd, operation.ID, streamIdx(1))
	if err != nil {
		return err
	}
	switch o.DType {
	case DTypeF32:
		return bindEagerMergeTyped(bd, operation, o, &bd.tileF32, sel)
	case DTypeU64:
		return bindEagerMergeTyped(bd, operation, o, &bd.tileU64, sel)
	}
	return fmt.Errorf("%w: eager merge over %s", ErrDType, o.DType)
}

func bindEagerMergeTyped[T stream.Scalar](bd *binder, operation *Operation, o *EagerMergeOp, cm *ChannelMap[stream.Tile[T]], sel *sim.Sender[stream.Elem[stream.MultiHot]]) error {
	ins := make([]*sim.Receiver[stream.Elem[stream.Tile[T]]], len(o.Inputs))
	var err error
	for i, ref := range o.Inputs {
		if ins[i], err = rcvOf(cm, bd, ref); err != nil {
			return err
		}
	}
	out, err := sndOf(cm, bd, operation.ID, streamIdx(0))
	if err != nil {
		return err
	}
	bd.b.Add(op.NewEagerMerge(ins, sel, out, o.InputRank, stream.MultiHotFromSelVec, operation.ID))
	return nil
}

func (bd *binder) bindBroadcast(operation *Operation) error {
	o := operation.Broadcast
	switch o.DType {
	case DTypeF32:
		return bindBroadcastTyped(bd, operation, o, &bd.tileF32)
	case DTypeU64:
		return bindBroadcastTyped(bd, operation, o, &bd.tileU64)
	case DTypeMultiHot:
		return bindBroadcastTyped(bd, operation, o, &bd.multiHot)
	case DTypeScalarU64:
		return bindBroadcastTyped(bd, operation, o, &bd.scalarU64)
	case DTypeScalarBool:
		return bindBroadcastTyped(bd, operation, o, &bd.scalarBool)
	}
	return fmt.Errorf("%w: broadcast over %s", ErrDType, o.DType)
}

func bindBroadcastTyped[T any](bd *binder, operation *Operation, o *BroadcastOp, cm *ChannelMap[T]) error {
	in, err := rcvOf(cm, bd, o.Input)
	if err != nil {
		return err
	}
	node := op.NewBroadcast(in, operation.ID)
	for i := uint32(0); i < o.NumConsumers; i++ {
		snd, err := sndOf(cm, bd, operation.ID, streamIdx(i))
		if err != nil {
			return err
		}
		node.AddTarget(snd)
	}
	bd.b.Add(node)
	return nil
}

func (bd *binder) bindBufferize(operation *Operation) error {
	o := operation.Bufferize
	in, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.buffF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewBufferize(in, out, o.Rank, operation.ID, bd.log))
	return nil
}

func (bd *binder) bindStreamify(operation *Operation) error {
	o := operation.Streamify
	in, err := rcvOf(&bd.buffF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewStreamify(in, out, o.RepeatFactor, o.Rank, operation.ID, bd.log))
	return nil
}

func (bd *binder) bindDynStreamify(operation *Operation) error {
	o := operation.DynStreamify
	in, err := rcvOf(&bd.buffF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	switch o.RefDType {
	case DTypeF32:
		ref, err := rcvOf(&bd.tileF32, bd, o.Ref)
		if err != nil {
			return err
		}
		bd.b.Add(op.NewDynStreamify(in, ref, out, o.BufferizedRank, o.RepeatRank, operation.ID, bd.log))
	case DTypeMultiHot:
		ref, err := rcvOf(&bd.multiHot, bd, o.Ref)
		if err != nil {
			return err
		}
		bd.b.Add(op.NewDynStreamify(in, ref, out, o.BufferizedRank, o.RepeatRank, operation.ID, bd.log))
	default:
		return fmt.Errorf("%w: dyn streamify ref over %s", ErrDType, o.RefDType)
	}
	return nil
}

func (bd *binder) bindPromote(operation *Operation) error {
	o := operation.Promote
	if o.DType != DTypeF32 {
		return fmt.Errorf("%w: promote over %s", ErrDType, o.DType)
	}
	in, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewPromote(in, out, o.PromoteRank, operation.ID))
	return nil
}

func (bd *binder) bindFlatten(operation *Operation) error {
	o := operation.Flatten
	switch o.DType {
	case DTypeF32:
		return bindFlattenTyped(bd, operation, o, &bd.tileF32)
	case DTypeU64:
		return bindFlattenTyped(bd, operation, o, &bd.tileU64)
	case DTypeMultiHot:
		in, err := rcvOf(&bd.multiHot, bd, o.Input)
		if err != nil {
			return err
		}
		out, err := sndOf(&bd.multiHot, bd, operation.ID, nil)
		if err != nil {
			return err
		}
		node, err := op.NewFlatten(in, out, o.MinRank, o.MaxRank, operation.ID)
		if err != nil {
			return err
		}
		bd.b.Add(node)
		return nil
	}
	return fmt.Errorf("%w: flatten over %s", ErrDType, o.DType)
}

func bindFlattenTyped[T stream.Scalar](bd *binder, operation *Operation, o *FlattenOp, cm *ChannelMap[stream.Tile[T]]) error {
	in, err := rcvOf(cm, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(cm, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	node, err := op.NewFlatten(in, out, o.MinRank, o.MaxRank, operation.ID)
	if err != nil {
		return err
	}
	bd.b.Add(node)
	return nil
}

func (bd *binder) bindReshape(operation *Operation) error {
	o := operation.Reshape
	in, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	pad, err := bd.padTileF32(o.Pad)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewReshape(in, out, o.SplitDim, o.ChunkSize, pad, o.InputStreamRank, o.AddOuterDim, operation.ID))
	return nil
}

func (bd *binder) bindRepeatStatic(operation *Operation) error {
	o := operation.RepeatStatic
	if o.DType != DTypeF32 {
		return fmt.Errorf("%w: repeat over %s", ErrDType, o.DType)
	}
	in, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewRepeatStatic(in, out, o.RepeatFactor, operation.ID))
	return nil
}

func (bd *binder) bindExpandRef(operation *Operation) error {
	o := operation.ExpandRef
	in, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	ref, err := rcvOf(&bd.tileF32, bd, o.Ref)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewExpandRef(in, ref, out, o.ExpandRank, operation.ID))
	return nil
}

func (bd *binder) bindRetileStreamify(operation *Operation) error {
	o := operation.RetileStreamify
	in, err := rcvOf(&bd.tileF32, bd, o.Input)
	if err != nil {
		return err
	}
	out, err := sndOf(&bd.tileF32, bd, operation.ID, nil)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewRetileStreamify(in, out, o.SplitRow, o.FilterMask, operation.ID))
	return nil
}

func (bd *binder) bindConsumer(operation *Operation) error {
	o := operation.Consumer
	switch o.DType {
	case DTypeF32:
		return bindConsumerTyped(bd, operation, o.Input, &bd.tileF32)
	case DTypeU64:
		return bindConsumerTyped(bd, operation, o.Input, &bd.tileU64)
	case DTypeBufferF32:
		return bindConsumerTyped(bd, operation, o.Input, &bd.buffF32)
	case DTypeMultiHot:
		return bindConsumerTyped(bd, operation, o.Input, &bd.multiHot)
	case DTypeScalarU64:
		return bindConsumerTyped(bd, operation, o.Input, &bd.scalarU64)
	case DTypeScalarBool:
		return bindConsumerTyped(bd, operation, o.Input, &bd.scalarBool)
	}
	return fmt.Errorf("%w: consumer over %s", ErrDType, o.DType)
}

func bindConsumerTyped[T any](bd *binder, operation *Operation, ref StreamRef, cm *ChannelMap[T]) error {
	in, err := rcvOf(cm, bd, ref)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewConsumer(in, operation.ID))
	return nil
}

func (bd *binder) bindPrinter(operation *Operation) error {
	o := operation.Printer
	switch o.DType {
	case DTypeF32:
		return bindPrinterTyped(bd, operation, o.Input, &bd.tileF32)
	case DTypeU64:
		return bindPrinterTyped(bd, operation, o.Input, &bd.tileU64)
	case DTypeMultiHot:
		return bindPrinterTyped(bd, operation, o.Input, &bd.multiHot)
	}
	return fmt.Errorf("%w: printer over %s", ErrDType, o.DType)
}

func bindPrinterTyped[T any](bd *binder, operation *Operation, ref StreamRef, cm *ChannelMap[T]) error {
	in, err := rcvOf(cm, bd, ref)
	if err != nil {
		return err
	}
	bd.b.Add(op.NewPrinter(in, bd.logger, operation.ID))
	return nil
}

// multiHotElems converte um tensor booleano [..., N] na sequência de
// seletores multi-hot com stop tokens estruturais (a última dimensão é
// a largura do seletor).
func multiHotElems(shape []int, bits []bool) ([]stream.Elem[stream.MultiHot], error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("graph: select tensor must have at least one dimension")
	}
	width := shape[len(shape)-1]
	elemShape := shape[:len(shape)-1]
	if len(elemShape) == 0 {
		elemShape = []int{1}
	}
	count := len(bits) / width
	out := make([]stream.Elem[stream.MultiHot], 0, count)
	for i := 0; i < count; i++ {
		sel := stream.NewMultiHot(append([]bool{}, bits[i*width:(i+1)*width]...), false)
		level := selStopLevel(i, elemShape)
		if level == 0 {
			out = append(out, stream.Val(sel))
		} else {
			out = append(out, stream.ValStop(sel, level))
		}
	}
	return out, nil
}

// selStopLevel devolve o nível mais alto que fecha na posição flat.
func selStopLevel(flat int, shape []int) stream.StopLevel {
	var level stream.StopLevel
	for dim := 1; dim <= len(shape); dim++ {
		period := 1
		for _, d := range shape[len(shape)-dim:] {
			period *= d
		}
		if (flat+1)%period == 0 {
			level = stream.StopLevel(dim)
		}
	}
	return level
}
