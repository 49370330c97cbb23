// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

// Scalar são os tipos de elemento suportados nos tiles.
type Scalar interface {
	~float32 | ~uint64
}

// Tile é um payload 2D de forma fixa. Data == nil indica modo
// timing-only (sem valores funcionais). Offset é a marca de linhas
// válidas: igual a Rows quando nada é padding, 0 quando o tile inteiro
// é padding.
type Tile[T Scalar] struct {
	Rows         int
	Cols         int
	BytesPerElem int
	FromMU       bool
	Data         []T // row-major, len == Rows*Cols quando presente
	Offset       int
}

// NewTile cria um tile com dados funcionais e todas as linhas válidas.
func NewTile[T Scalar](rows, cols int, data []T, bytesPerElem int, fromMU bool) Tile[T] {
	return Tile[T]{Rows: rows, Cols: cols, BytesPerElem: bytesPerElem, FromMU: fromMU, Data: data, Offset: rows}
}

// NewTilePadded cria um tile com dados funcionais e offset explícito.
func NewTilePadded[T Scalar](rows, cols int, data []T, bytesPerElem int, fromMU bool, offset int) Tile[T] {
	return Tile[T]{Rows: rows, Cols: cols, BytesPerElem: bytesPerElem, FromMU: fromMU, Data: data, Offset: offset}
}

// BlankTile cria um tile timing-only (sem dados).
func BlankTile[T Scalar](rows, cols, bytesPerElem int, fromMU bool) Tile[T] {
	return Tile[T]{Rows: rows, Cols: cols, BytesPerElem: bytesPerElem, FromMU: fromMU, Offset: rows}
}

// BlankTilePadded cria um tile timing-only com offset explícito.
func BlankTilePadded[T Scalar](rows, cols, bytesPerElem int, fromMU bool, offset int) Tile[T] {
	return Tile[T]{Rows: rows, Cols: cols, BytesPerElem: bytesPerElem, FromMU: fromMU, Offset: offset}
}

// ZeroTile cria um tile funcional zerado, sem padding.
func ZeroTile[T Scalar](rows, cols, bytesPerElem int, fromMU bool) Tile[T] {
	return NewTile(rows, cols, make([]T, rows*cols), bytesPerElem, fromMU)
}

// ZeroTilePadded cria um tile funcional zerado marcando-o como padding.
func ZeroTilePadded[T Scalar](rows, cols, bytesPerElem int, fromMU bool, offset int) Tile[T] {
	return NewTilePadded(rows, cols, make([]T, rows*cols), bytesPerElem, fromMU, offset)
}

// EmptyTile cria um tile funcional com uma dimensão de tamanho zero.
// Serve de acumulador inicial para os folds de retile.
func EmptyTile[T Scalar](rows, cols, bytesPerElem int, fromMU bool) Tile[T] {
	return Tile[T]{Rows: rows, Cols: cols, BytesPerElem: bytesPerElem, FromMU: fromMU, Data: []T{}, Offset: rows}
}

// SizeInBytes retorna o tamanho contábil do tile.
func (t Tile[T]) SizeInBytes() int {
	return t.Rows * t.Cols * t.BytesPerElem
}

// ReadFromMU informa se o consumidor deve pagar custo de load.
func (t Tile[T]) ReadFromMU() bool {
	return t.FromMU
}

// WithReadFromMU devolve uma cópia rasa com a flag atualizada.
func (t Tile[T]) WithReadFromMU(fromMU bool) Tile[T] {
	t.FromMU = fromMU
	return t
}

// At lê o valor funcional na posição (i, j).
func (t Tile[T]) At(i, j int) T {
	return t.Data[i*t.Cols+j]
}

// Functional informa se o tile carrega valores reais.
func (t Tile[T]) Functional() bool {
	return t.Data != nil
}

// Equal compara forma, offset e dados funcionais.
func (t Tile[T]) Equal(o Tile[T]) bool {
	if t.Rows != o.Rows || t.Cols != o.Cols || t.BytesPerElem != o.BytesPerElem || t.Offset != o.Offset {
		return false
	}
	if (t.Data == nil) != (o.Data == nil) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}
