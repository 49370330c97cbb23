// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package graph define o modelo do grafo de programa (a lista de
// operadores produzida pelo deserializador externo) e o binder que o
// materializa em atores ligados por canais tipados.
package graph

// DType identifica o tipo de payload de um stream.
type DType string

// Tipos de payload suportados pelos canais.
const (
	DTypeF32        DType = "f32"         // tiles de float32
	DTypeU64        DType = "u64"         // tiles de uint64
	DTypeBufferF32  DType = "buffer_f32"  // buffers de tiles f32
	DTypeMultiHot   DType = "multihot"    // seletores densos
	DTypeScalarU64  DType = "scalar_u64"  // escalares u64
	DTypeScalarBool DType = "scalar_bool" // escalares bool (acks)
)

// StreamRef aponta para a saída de um nó produtor: o id do nó e, para
// produtores com múltiplos streams (broadcast, eager-merge), o índice.
type StreamRef struct {
	ID        uint32  `json:"id"`
	StreamIdx *uint32 `json:"stream_idx,omitempty"`
}

// Program é o grafo deserializado. O binder nunca o modifica.
type Program struct {
	Operations []Operation `json:"operations"`
}

// Source é o colaborador externo que produz o grafo (deserializador
// protobuf no host original; JSON nesta árvore).
type Source interface {
	Load() (*Program, error)
}

// TensorSource resolve os tensores funcionais referenciados pelo grafo
// (leitor .npy no host).
type TensorSource interface {
	Float32(path string) (shape []int, data []float32, err error)
	Uint64(path string) (shape []int, data []uint64, err error)
	Bool(path string) (shape []int, data []bool, err error)
}

// Operation é um nó do grafo: id, nome e exatamente um dos campos de
// operador preenchido (o equivalente do oneof do proto).
type Operation struct {
	ID   uint32 `json:"id"`
	Name string `json:"name,omitempty"`

	UnaryMap           *UnaryMapOp           `json:"unary_map,omitempty"`
	BinaryMap          *BinaryMapOp          `json:"binary_map,omitempty"`
	BinaryMapAccum     *BinaryMapAccumOp     `json:"binary_map_accum,omitempty"`
	Accum              *AccumOp              `json:"accum,omitempty"`
	OffChipLoad        *OffChipLoadOp        `json:"off_chip_load,omitempty"`
	OffChipStore       *OffChipStoreOp       `json:"off_chip_store,omitempty"`
	RandomOffChipLoad  *RandomOffChipLoadOp  `json:"random_off_chip_load,omitempty"`
	RandomOffChipStore *RandomOffChipStoreOp `json:"random_off_chip_store,omitempty"`
	DynOffChipLoad     *DynOffChipLoadOp     `json:"dyn_off_chip_load,omitempty"`
	MetadataGen        *MetadataGenOp        `json:"metadata_gen,omitempty"`
	ExpertAddrGen      *ExpertAddrGenOp      `json:"expert_addr_gen,omitempty"`
	CacheReadAddrGen   *CacheReadAddrGenOp   `json:"cache_read_addr_gen,omitempty"`
	FilterLastTile     *FilterLastTileOp     `json:"filter_last_tile,omitempty"`
	SelectGen          *SelectGenOp          `json:"select_gen,omitempty"`
	FlatPartition      *FlatPartitionOp      `json:"flat_partition,omitempty"`
	FlatReassemble     *FlatReassembleOp     `json:"flat_reassemble,omitempty"`
	Parallelize        *ParallelizeOp        `json:"parallelize,omitempty"`
	EagerMerge         *EagerMergeOp         `json:"eager_merge,omitempty"`
	Broadcast          *BroadcastOp          `json:"broadcast,omitempty"`
	Bufferize          *BufferizeOp          `json:"bufferize,omitempty"`
	Streamify          *StreamifyOp          `json:"streamify,omitempty"`
	DynStreamify       *DynStreamifyOp       `json:"dyn_streamify,omitempty"`
	Promote            *PromoteOp            `json:"promote,omitempty"`
	Flatten            *FlattenOp            `json:"flatten,omitempty"`
	Reshape            *ReshapeOp            `json:"reshape,omitempty"`
	RepeatStatic       *RepeatStaticOp       `json:"repeat_static,omitempty"`
	ExpandRef          *ExpandRefOp          `json:"expand_ref,omitempty"`
	RetileStreamify    *RetileStreamifyOp    `json:"retile_streamify,omitempty"`
	Consumer           *ConsumerOp           `json:"consumer,omitempty"`
	Printer            *PrinterOp            `json:"printer,omitempty"`
}

// UnaryMapOp aplica uma função elemento a elemento.
type UnaryMapOp struct {
	Input       StreamRef `json:"input"`
	DType       DType     `json:"dtype"`
	Fn          string    `json:"fn"` // silu, exp, row_wise_sum
	ComputeBW   uint64    `json:"compute_bw"`
	WriteBackMU bool      `json:"write_back_mu"`
}

// BinaryMapOp aplica uma função a pares de elementos.
type BinaryMapOp struct {
	In1              StreamRef `json:"in1"`
	In2              StreamRef `json:"in2"`
	DType1           DType     `json:"dtype1"`
	DType2           DType     `json:"dtype2"`
	OutDType         DType     `json:"out_dtype"`
	Fn               string    `json:"fn"` // matmul, mul, add, div, row_wise_append, set_offset, cache_write_addr_gen
	WeightTransposed bool      `json:"weight_transposed,omitempty"`
	OffsetPerIdx     uint64    `json:"offset_per_idx,omitempty"`
	ComputeBW        uint64    `json:"compute_bw"`
	WriteBackMU      bool      `json:"write_back_mu"`
}

// InitTile descreve o acumulador inicial de um fold.
type InitTile struct {
	Kind         string `json:"kind"` // zero, empty, blank
	Rows         int    `json:"rows"`
	Cols         int    `json:"cols"`
	BytesPerElem int    `json:"bytes_per_elem"`
}

// BinaryMapAccumOp acumula pares ao longo do eixo de redução.
type BinaryMapAccumOp struct {
	In1              StreamRef `json:"in1"`
	In2              StreamRef `json:"in2"`
	Fn               string    `json:"fn"` // matmul, dyn_matmul
	WeightTransposed bool      `json:"weight_transposed,omitempty"`
	Init             InitTile  `json:"init"`
	Rank             uint32    `json:"rank"`
	ComputeBW        uint64    `json:"compute_bw"`
	WriteBackMU      bool      `json:"write_back_mu"`
}

// AccumOp é o fold unário.
type AccumOp struct {
	Input       StreamRef `json:"input"`
	DTypeA      DType     `json:"dtype_a"`
	DTypeB      DType     `json:"dtype_b"`
	Fn          string    `json:"fn"` // add, mul, retile_row, retile_col, signal_req_all_read
	Init        InitTile  `json:"init"`
	Rank        uint32    `json:"rank"`
	ComputeBW   uint64    `json:"compute_bw"`
	WriteBackMU bool      `json:"write_back_mu"`
}

// OffChipLoadOp enumera tiles da DRAM.
type OffChipLoadOp struct {
	DType            DType  `json:"dtype"`
	TensorShapeTiled []int  `json:"tensor_shape_tiled"`
	Stride           []int  `json:"stride"`
	OutShapeTiled    []int  `json:"out_shape_tiled"`
	NpyPath          string `json:"npy_path,omitempty"`
	BaseAddr         uint64 `json:"base_addr,omitempty"`
	TileRow          int    `json:"tile_row"`
	TileCol          int    `json:"tile_col"`
	ParDispatch      int    `json:"par_dispatch"`
}

// OffChipStoreOp escreve tiles na DRAM.
type OffChipStoreOp struct {
	Input            StreamRef `json:"input"`
	DType            DType     `json:"dtype"`
	TensorShapeTiled []int     `json:"tensor_shape_tiled"`
	BaseAddr         uint64    `json:"base_addr,omitempty"`
	TileRow          int       `json:"tile_row"`
	TileCol          int       `json:"tile_col"`
	ParDispatch      int       `json:"par_dispatch"`
	StorePath        string    `json:"store_path,omitempty"`
}

// RandomOffChipLoadOp lê tiles endereçados por um stream.
type RandomOffChipLoadOp struct {
	Raddr            StreamRef `json:"raddr"`
	DType            DType     `json:"dtype"`
	TensorShapeTiled []int     `json:"tensor_shape_tiled"`
	NpyPath          string    `json:"npy_path,omitempty"`
	BaseAddr         uint64    `json:"base_addr,omitempty"`
	TileRow          int       `json:"tile_row"`
	TileCol          int       `json:"tile_col"`
	ParDispatch      int       `json:"par_dispatch"`
}

// RandomOffChipStoreOp escreve tiles endereçados por um stream.
type RandomOffChipStoreOp struct {
	Waddr            StreamRef `json:"waddr"`
	Wdata            StreamRef `json:"wdata"`
	TensorShapeTiled []int     `json:"tensor_shape_tiled"`
	NpyPath          string    `json:"npy_path,omitempty"`
	BaseAddr         uint64    `json:"base_addr,omitempty"`
	TileRow          int       `json:"tile_row"`
	TileCol          int       `json:"tile_col"`
	ParDispatch      int       `json:"par_dispatch"`
	AckBasedOnWaddr  bool      `json:"ack_based_on_waddr"`
}

// DynOffChipLoadOp repete a varredura sob um stream de referência.
type DynOffChipLoadOp struct {
	Ref              StreamRef `json:"ref"`
	RefDType         DType     `json:"ref_dtype"`
	DType            DType     `json:"dtype"`
	TensorShapeTiled []int     `json:"tensor_shape_tiled"`
	Stride           []int     `json:"stride"`
	OutShapeTiled    []int     `json:"out_shape_tiled"`
	NpyPath          string    `json:"npy_path,omitempty"`
	BaseAddr         uint64    `json:"base_addr,omitempty"`
	TileRow          int       `json:"tile_row"`
	TileCol          int       `json:"tile_col"`
	ParDispatch      int       `json:"par_dispatch"`
}

// MetadataGenOp reproduz um tensor de metadados como stream u64.
type MetadataGenOp struct {
	NpyPath string `json:"npy_path"`
}

// ExpertAddrGenOp converte seletores one-hot em endereços de expert.
type ExpertAddrGenOp struct {
	Input            StreamRef `json:"input"`
	NumTilePerExpert uint64    `json:"num_tile_per_expert"`
	ExpertAddrBase   uint64    `json:"expert_addr_base"`
}

// CacheReadAddrGenOp expande (idx, seq_len) em endereços de cache.
type CacheReadAddrGenOp struct {
	Idx          StreamRef `json:"idx"`
	SeqLen       StreamRef `json:"seq_len"`
	OffsetPerIdx uint64    `json:"offset_per_idx"`
}

// FilterLastTileOp gera a máscara que retém o último tile por sequência.
type FilterLastTileOp struct {
	SeqLen StreamRef `json:"seq_len"`
}

// SelectGenOp reproduz um tensor de seleção multi-hot de um .npy.
type SelectGenOp struct {
	NpyPath    string `json:"npy_path"`
	IsMultiHot bool   `json:"is_multihot"`
}

// FlatPartitionOp roteia grupos para experts guiado por seletores.
type FlatPartitionOp struct {
	Input         StreamRef `json:"input"`
	Sel           StreamRef `json:"sel"`
	DType         DType     `json:"dtype"`
	NumOutputs    int       `json:"num_outputs"`
	PartitionRank uint32    `json:"partition_rank"`
	SwitchCycles  []uint64  `json:"switch_cycles"`
	WriteBackMU   bool      `json:"write_back_mu"`
}

// FlatReassembleOp reúne os streams dos experts.
type FlatReassembleOp struct {
	Inputs         []StreamRef `json:"inputs"`
	Sel            StreamRef   `json:"sel"`
	DType          DType       `json:"dtype"`
	ReassembleRank uint32      `json:"reassemble_rank"`
	SwitchCycles   []uint64    `json:"switch_cycles"`
	WriteBackMU    bool        `json:"write_back_mu"`
}

// ParallelizeOp distribui grupos round-robin.
type ParallelizeOp struct {
	Input         StreamRef `json:"input"`
	DType         DType     `json:"dtype"`
	NumOutputs    int       `json:"num_outputs"`
	PartitionRank uint32    `json:"partition_rank"`
	SwitchCycles  []uint64  `json:"switch_cycles"`
}

// EagerMergeOp mescla streams pelo timestamp mais cedo. A saída de
// dados é o stream 0 do nó; o stream de seleção é o 1.
type EagerMergeOp struct {
	Inputs    []StreamRef `json:"inputs"`
	DType     DType       `json:"dtype"`
	InputRank uint32      `json:"input_rank"`
}

// BroadcastOp replica um stream para num_consumers consumidores,
// expostos como streams 0..num_consumers-1 do nó.
type BroadcastOp struct {
	Input        StreamRef `json:"input"`
	DType        DType     `json:"dtype"`
	NumConsumers uint32    `json:"num_consumers"`
}

// BufferizeOp coleta grupos em buffers densos.
type BufferizeOp struct {
	Input StreamRef `json:"input"`
	Rank  uint32    `json:"rank"`
}

// StreamifyOp replica buffers como stream.
type StreamifyOp struct {
	Input        StreamRef `json:"input"`
	RepeatFactor []int     `json:"repeat_factor"`
	Rank         uint32    `json:"rank"`
}

// DynStreamifyOp replica buffers sob contagem dinâmica.
type DynStreamifyOp struct {
	Input          StreamRef `json:"input"`
	Ref            StreamRef `json:"ref"`
	RefDType       DType     `json:"ref_dtype"`
	BufferizedRank uint32    `json:"bufferized_rank"`
	RepeatRank     uint32    `json:"repeat_rank"`
}

// PromoteOp insere uma dimensão.
type PromoteOp struct {
	Input       StreamRef `json:"input"`
	DType       DType     `json:"dtype"`
	PromoteRank uint32    `json:"promote_rank"`
}

// FlattenOp colapsa um intervalo de dimensões.
type FlattenOp struct {
	Input   StreamRef `json:"input"`
	DType   DType     `json:"dtype"`
	MinRank uint32    `json:"min_rank"`
	MaxRank uint32    `json:"max_rank"`
}

// ReshapeOp re-particiona um eixo do stream.
type ReshapeOp struct {
	Input           StreamRef `json:"input"`
	SplitDim        int       `json:"split_dim"`
	ChunkSize       int       `json:"chunk_size"`
	Pad             *InitTile `json:"pad,omitempty"`
	InputStreamRank uint32    `json:"input_stream_rank"`
	AddOuterDim     bool      `json:"add_outer_dim"`
}

// RepeatStaticOp replica cada elemento um número fixo de vezes.
type RepeatStaticOp struct {
	Input        StreamRef `json:"input"`
	DType        DType     `json:"dtype"`
	RepeatFactor int       `json:"repeat_factor"`
}

// ExpandRefOp repete elementos sob um stream de referência.
type ExpandRefOp struct {
	Input      StreamRef `json:"input"`
	Ref        StreamRef `json:"ref"`
	ExpandRank uint32    `json:"expand_rank"`
}

// RetileStreamifyOp fatia tiles em linhas ou colunas.
type RetileStreamifyOp struct {
	Input      StreamRef `json:"input"`
	SplitRow   bool      `json:"split_row"`
	FilterMask bool      `json:"filter_mask"`
}

// ConsumerOp drena um stream.
type ConsumerOp struct {
	Input StreamRef `json:"input"`
	DType DType     `json:"dtype"`
}

// PrinterOp drena um stream com log.
type PrinterOp struct {
	Input StreamRef `json:"input"`
	DType DType     `json:"dtype"`
}
