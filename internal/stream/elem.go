// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stream define os payloads que circulam pelos canais do
// simulador: elementos com stop token, tiles 2D, buffers densos e
// seletores multi-hot. Um stream de rank R é achatado numa sequência de
// valores onde o último elemento de cada sub-stream carrega o nível da
// dimensão mais externa que fecha naquele ponto.
package stream

// StopLevel codifica a fronteira de rank fechada logo após o valor.
// Nível 0 significa "sem stop" (elemento puro).
type StopLevel = uint32

// Elem é um elemento de stream: payload mais stop token opcional.
type Elem[T any] struct {
	Data T
	Stop StopLevel
}

// Val cria um elemento sem stop token.
func Val[T any](data T) Elem[T] {
	return Elem[T]{Data: data}
}

// ValStop cria um elemento que fecha um grupo de rank `level`.
func ValStop[T any](data T, level StopLevel) Elem[T] {
	return Elem[T]{Data: data, Stop: level}
}

// IsStop informa se o elemento carrega um stop token.
func (e Elem[T]) IsStop() bool {
	return e.Stop > 0
}

// Payload é o contrato mínimo para dados roteáveis pelos operadores que
// contabilizam banda: tamanho em bytes para o modelo de PMU, e a flag
// read_from_mu que obriga o consumidor a pagar o custo de load.
type Payload[T any] interface {
	SizeInBytes() int
	ReadFromMU() bool
	WithReadFromMU(fromMU bool) T
}
