// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package op

import (
	"math"

	"github.com/nishisan-dev/step-sim/internal/stream"
)

// As funções abaixo computam um tile de saída e o custo em ciclos
// (⌈FLOPs/compute_bw⌉), propagando o offset de linhas válidas e setando
// read_from_mu = write_back_mu na saída para que o próximo operador
// saiba se deve pagar custo de load.

// Matmul multiplica [M,K]x[K,N] ([M,K]x[N,K] quando o peso está
// transposto). Custo: 2·M·K·N FLOPs.
func Matmul[T stream.Scalar](weightTransposed bool) BinaryMapFunc[T, T] {
	return func(in1, in2 stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T]) {
		m, k := in1.Rows, in1.Cols
		n := in2.Cols
		if weightTransposed {
			n = in2.Rows
		}
		cycles := divCeil(uint64(2*m*k*n), computeBW)

		if !in1.Functional() || !in2.Functional() {
			return cycles, stream.BlankTilePadded[T](m, n, in1.BytesPerElem, writeBackMU, in1.Offset)
		}
		out := make([]T, m*n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum T
				for kk := 0; kk < k; kk++ {
					if weightTransposed {
						sum += in1.At(i, kk) * in2.At(j, kk)
					} else {
						sum += in1.At(i, kk) * in2.At(kk, j)
					}
				}
				out[i*n+j] = sum
			}
		}
		return cycles, stream.NewTilePadded(m, n, out, in1.BytesPerElem, writeBackMU, in1.Offset)
	}
}

// broadcastShape resolve a forma de saída de um op element-wise com
// broadcasting sobre dimensões unitárias, e o offset propagado.
func broadcastShape[A, B stream.Scalar](in1 stream.Tile[A], in2 stream.Tile[B]) (rows, cols, offset int) {
	rows = in1.Rows
	if in2.Rows > rows {
		rows = in2.Rows
	}
	cols = in1.Cols
	if in2.Cols > cols {
		cols = in2.Cols
	}
	switch {
	case in1.Rows == in2.Rows:
		offset = in1.Offset
		if in2.Offset > offset {
			offset = in2.Offset
		}
	case in1.Rows == 1:
		offset = in2.Offset
	default:
		offset = in1.Offset
	}
	return rows, cols, offset
}

func elementwise[T stream.Scalar](apply func(a, b T) T) BinaryMapFunc[T, T] {
	return func(in1, in2 stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T]) {
		rows, cols, offset := broadcastShape(in1, in2)
		cycles := divCeil(uint64(rows*cols), computeBW)
		if !in1.Functional() || !in2.Functional() {
			return cycles, stream.BlankTilePadded[T](rows, cols, in1.BytesPerElem, writeBackMU, offset)
		}
		out := make([]T, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				a := in1.At(min(i, in1.Rows-1), min(j, in1.Cols-1))
				b := in2.At(min(i, in2.Rows-1), min(j, in2.Cols-1))
				out[i*cols+j] = apply(a, b)
			}
		}
		return cycles, stream.NewTilePadded(rows, cols, out, in1.BytesPerElem, writeBackMU, offset)
	}
}

// Add soma element-wise com broadcasting sobre dimensões unitárias.
func Add[T stream.Scalar]() BinaryMapFunc[T, T] {
	return elementwise(func(a, b T) T { return a + b })
}

// Mul multiplica element-wise com broadcasting.
func Mul[T stream.Scalar]() BinaryMapFunc[T, T] {
	return elementwise(func(a, b T) T { return a * b })
}

// Div divide element-wise com broadcasting.
func Div[T stream.Scalar]() BinaryMapFunc[T, T] {
	return elementwise(func(a, b T) T { return a / b })
}

// SiLU aplica x/(1+e^-x); contabilizado como 8 FLOPs por elemento.
func SiLU(in stream.Tile[float32], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[float32]) {
	cycles := divCeil(uint64(in.Rows*in.Cols*8), computeBW)
	if !in.Functional() {
		return cycles, stream.BlankTilePadded[float32](in.Rows, in.Cols, in.BytesPerElem, writeBackMU, in.Offset)
	}
	out := make([]float32, len(in.Data))
	for i, x := range in.Data {
		out[i] = x / (1 + float32(math.Exp(float64(-x))))
	}
	return cycles, stream.NewTilePadded(in.Rows, in.Cols, out, in.BytesPerElem, writeBackMU, in.Offset)
}

// Exp aplica e^x; 4 FLOPs por elemento.
func Exp(in stream.Tile[float32], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[float32]) {
	cycles := divCeil(uint64(in.Rows*in.Cols*4), computeBW)
	if !in.Functional() {
		return cycles, stream.BlankTilePadded[float32](in.Rows, in.Cols, in.BytesPerElem, writeBackMU, in.Offset)
	}
	out := make([]float32, len(in.Data))
	for i, x := range in.Data {
		out[i] = float32(math.Exp(float64(x)))
	}
	return cycles, stream.NewTilePadded(in.Rows, in.Cols, out, in.BytesPerElem, writeBackMU, in.Offset)
}

// RowWiseSum reduz cada linha a um escalar: [R,C] → [R,1].
func RowWiseSum[T stream.Scalar](in stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T]) {
	cycles := divCeil(uint64(in.Rows*in.Cols), computeBW)
	if !in.Functional() {
		return cycles, stream.BlankTilePadded[T](in.Rows, 1, in.BytesPerElem, writeBackMU, in.Offset)
	}
	out := make([]T, in.Rows)
	for i := 0; i < in.Rows; i++ {
		var sum T
		for j := 0; j < in.Cols; j++ {
			sum += in.At(i, j)
		}
		out[i] = sum
	}
	return cycles, stream.NewTilePadded(in.Rows, 1, out, in.BytesPerElem, writeBackMU, in.Offset)
}

// SetOffset reescreve a marca de linhas válidas do tile com o valor
// carregado num tile u64 de metadados. Custo fixo de 1 ciclo.
func SetOffset(in stream.Tile[float32], offsetTile stream.Tile[uint64], _ uint64, writeBackMU bool) (uint64, stream.Tile[float32]) {
	offset := int(offsetTile.At(0, 0))
	if !in.Functional() {
		return 1, stream.BlankTilePadded[float32](in.Rows, in.Cols, in.BytesPerElem, writeBackMU, offset)
	}
	out := make([]float32, len(in.Data))
	copy(out, in.Data)
	return 1, stream.NewTilePadded(in.Rows, in.Cols, out, in.BytesPerElem, writeBackMU, offset)
}

// RowWiseAppend copia as linhas do segundo tile para a região a partir
// do offset do primeiro, avançando a marca de linhas válidas.
func RowWiseAppend(in, toAppend stream.Tile[float32], _ uint64, writeBackMU bool) (uint64, stream.Tile[float32]) {
	newOffset := in.Offset + toAppend.Rows
	if !in.Functional() || !toAppend.Functional() {
		return 1, stream.BlankTilePadded[float32](in.Rows, in.Cols, in.BytesPerElem, writeBackMU, newOffset)
	}
	out := make([]float32, len(in.Data))
	copy(out, in.Data)
	for r := 0; r < toAppend.Rows; r++ {
		copy(out[(in.Offset+r)*in.Cols:(in.Offset+r+1)*in.Cols], toAppend.Data[r*toAppend.Cols:(r+1)*toAppend.Cols])
	}
	return 1, stream.NewTilePadded(in.Rows, in.Cols, out, in.BytesPerElem, writeBackMU, newOffset)
}

// CacheWriteAddrGen computa o endereço de escrita de cache
// idx*offset_per_idx + len a partir de dois tiles 1x1 de metadados.
func CacheWriteAddrGen(offsetPerIdx uint64) BinaryMapFunc[uint64, uint64] {
	return func(idx, length stream.Tile[uint64], _ uint64, writeBackMU bool) (uint64, stream.Tile[uint64]) {
		addr := idx.At(0, 0)*offsetPerIdx + length.At(0, 0)
		return 1, stream.NewTile(1, 1, []uint64{addr}, 8, writeBackMU)
	}
}

// MapAccumMatmul acumula o produto tiled no acumulador (matmul com
// redução explícita via BinaryMapAccum).
func MapAccumMatmul[T stream.Scalar](weightTransposed bool) MapAccumFunc[T] {
	return func(in1, in2, acc stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T]) {
		cycles, prod := Matmul[T](weightTransposed)(in1, in2, computeBW, writeBackMU)
		if !prod.Functional() || !acc.Functional() {
			return cycles, prod
		}
		out := make([]T, len(prod.Data))
		for i := range out {
			out[i] = prod.Data[i] + acc.Data[i]
		}
		return cycles, stream.NewTilePadded(prod.Rows, prod.Cols, out, prod.BytesPerElem, writeBackMU, prod.Offset)
	}
}

// MapAccumDynMatmul é o matmul acumulador com alocação dinâmica: um
// acumulador de dimensão zero adota o primeiro produto.
func MapAccumDynMatmul[T stream.Scalar](weightTransposed bool) MapAccumFunc[T] {
	return func(in1, in2, acc stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T]) {
		cycles, prod := Matmul[T](weightTransposed)(in1, in2, computeBW, writeBackMU)
		if !prod.Functional() || !acc.Functional() {
			return cycles, prod
		}
		if acc.Rows == 0 || acc.Cols == 0 {
			return cycles, prod
		}
		out := make([]T, len(prod.Data))
		for i := range out {
			out[i] = prod.Data[i] + acc.Data[i]
		}
		return cycles, stream.NewTilePadded(prod.Rows, prod.Cols, out, prod.BytesPerElem, writeBackMU, prod.Offset)
	}
}

// AccumAdd soma o tile corrente no acumulador.
func AccumAdd[T stream.Scalar]() AccumFunc[T, T] {
	return func(in, acc stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T]) {
		return elementwise(func(a, b T) T { return a + b })(in, acc, computeBW, writeBackMU)
	}
}

// AccumMul multiplica o tile corrente no acumulador.
func AccumMul[T stream.Scalar]() AccumFunc[T, T] {
	return func(in, acc stream.Tile[T], computeBW uint64, writeBackMU bool) (uint64, stream.Tile[T]) {
		return elementwise(func(a, b T) T { return a * b })(in, acc, computeBW, writeBackMU)
	}
}

// RetileCol concatena colunas: o acumulador cresce para a direita. Sem
// custo de compute (só movimento modelado no roofline do chamador).
func RetileCol[T stream.Scalar](in, acc stream.Tile[T], _ uint64, _ bool) (uint64, stream.Tile[T]) {
	rows, cols := in.Rows, acc.Cols+in.Cols
	if !in.Functional() || !acc.Functional() {
		return 0, stream.BlankTile[T](rows, cols, in.BytesPerElem, in.FromMU)
	}
	out := make([]T, rows*cols)
	for r := 0; r < rows; r++ {
		copy(out[r*cols:r*cols+acc.Cols], acc.Data[r*acc.Cols:(r+1)*acc.Cols])
		copy(out[r*cols+acc.Cols:(r+1)*cols], in.Data[r*in.Cols:(r+1)*in.Cols])
	}
	return 0, stream.NewTile(rows, cols, out, in.BytesPerElem, in.FromMU)
}

// RetileRow concatena linhas: o acumulador cresce para baixo, somando
// os offsets de linhas válidas.
func RetileRow[T stream.Scalar](in, acc stream.Tile[T], _ uint64, _ bool) (uint64, stream.Tile[T]) {
	rows, cols := acc.Rows+in.Rows, acc.Cols
	offset := acc.Offset + in.Offset
	if !in.Functional() || !acc.Functional() {
		return 0, stream.BlankTilePadded[T](rows, cols, in.BytesPerElem, in.FromMU, offset)
	}
	out := make([]T, 0, rows*cols)
	out = append(out, acc.Data...)
	out = append(out, in.Data...)
	return 0, stream.NewTilePadded(rows, cols, out, in.BytesPerElem, in.FromMU, offset)
}

// SignalReqAllRead descarta o conteúdo e emite um sinal u64 de término
// de leitura do grupo.
func SignalReqAllRead(in stream.Tile[float32], _ stream.Tile[uint64], _ uint64, writeBackMU bool) (uint64, stream.Tile[uint64]) {
	if !in.Functional() {
		return 1, stream.BlankTile[uint64](1, 1, 8, writeBackMU)
	}
	return 1, stream.NewTile(1, 1, []uint64{1}, 8, writeBackMU)
}
