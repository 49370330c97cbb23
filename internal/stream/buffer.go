// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/sim"
)

// Erros da bufferização.
var (
	// ErrStreamDone: o stream já estava fechado antes do primeiro elemento.
	ErrStreamDone = errors.New("buffer: stream finished before bufferize started")
	// ErrIncomplete: o stream fechou no meio de um grupo.
	ErrIncomplete = errors.New("buffer: stream terminated with an incomplete group")
)

// Buffer é um contêiner denso multidimensional produzido por Bufferize e
// consumido por Streamify/DynStreamify. CreationTime registra o ciclo em
// que o primeiro elemento chegou.
type Buffer[T any] struct {
	Shape        []int
	Data         []T
	CreationTime sim.Cycle
}

// NewBuffer monta um buffer a partir de forma e dados já achatados.
func NewBuffer[T any](shape []int, data []T, creationTime sim.Cycle) Buffer[T] {
	return Buffer[T]{Shape: shape, Data: data, CreationTime: creationTime}
}

// Len retorna o número de elementos.
func (b Buffer[T]) Len() int { return len(b.Data) }

// NDim retorna o rank do buffer.
func (b Buffer[T]) NDim() int { return len(b.Shape) }

// multiIndex converte o índice plano para multi-índice row-major.
func (b Buffer[T]) multiIndex(flat int) []int {
	idx := make([]int, len(b.Shape))
	for d := len(b.Shape) - 1; d >= 0; d-- {
		idx[d] = flat % b.Shape[d]
		flat /= b.Shape[d]
	}
	return idx
}

// ElemSeq reachata o buffer como um stream com stop tokens: o nível de
// cada elemento é o número de dimensões que viram antes do próximo
// elemento; o último elemento fecha todas as NDim dimensões. Um buffer
// de um único elemento vira [ValStop(x, 1)].
func (b Buffer[T]) ElemSeq() []Elem[T] {
	n := len(b.Data)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []Elem[T]{ValStop(b.Data[0], 1)}
	}
	ndim := b.NDim()
	out := make([]Elem[T], 0, n)
	cur := b.multiIndex(0)
	for i := 0; i < n-1; i++ {
		next := b.multiIndex(i + 1)
		changed := 0
		for d := 0; d < ndim; d++ {
			if cur[d] != next[d] {
				changed = d
				break
			}
		}
		level := StopLevel(ndim - changed - 1)
		if level == 0 {
			out = append(out, Val(b.Data[i]))
		} else {
			out = append(out, ValStop(b.Data[i], level))
		}
		cur = next
	}
	out = append(out, ValStop(b.Data[n-1], StopLevel(ndim)))
	return out
}

// Equal compara forma e dados via eq (CreationTime fica de fora, como na
// comparação estrutural usada nos testes de round-trip).
func (b Buffer[T]) Equal(o Buffer[T], eq func(a, c T) bool) bool {
	if len(b.Shape) != len(o.Shape) || len(b.Data) != len(o.Data) {
		return false
	}
	for i := range b.Shape {
		if b.Shape[i] != o.Shape[i] {
			return false
		}
	}
	for i := range b.Data {
		if !eq(b.Data[i], o.Data[i]) {
			return false
		}
	}
	return true
}

// FromStream consome um grupo de rank `rank` do receiver, montando o
// buffer denso. Cada elemento consumido custa um ciclo. Retorna também o
// nível residual quando o grupo fechou com stop acima de rank (nível -
// rank, a propagar no canal de saída); residual 0 significa fechamento
// exato.
func FromStream[T any](rcv *sim.Receiver[Elem[T]], tm *sim.TimeManager, rank int) (Buffer[T], StopLevel, error) {
	if rank < 1 {
		return Buffer[T]{}, 0, fmt.Errorf("buffer: rank must be >= 1, got %d", rank)
	}

	var (
		data         []T
		creationTime sim.Cycle
		haveCreation bool
		residual     StopLevel
	)

	// shapeInfo conta elementos vistos por dimensão, da mais interna para
	// a mais externa; tracked marca dimensões cujo tamanho já foi fixado.
	shapeInfo := []int{0}
	var tracked []bool

collect:
	for {
		msg, err := rcv.Dequeue()
		if err != nil {
			if len(data) == 0 {
				return Buffer[T]{}, 0, ErrStreamDone
			}
			return Buffer[T]{}, 0, ErrIncomplete
		}
		if !haveCreation {
			creationTime = tm.Tick()
			haveCreation = true
		}
		elem := msg.Data
		data = append(data, elem.Data)

		switch {
		case !elem.IsStop():
			if len(shapeInfo) == 1 {
				shapeInfo[0]++
			}
		default:
			st := int(elem.Stop)
			switch {
			case st >= rank:
				if st > rank {
					residual = StopLevel(st - rank)
				}
				// Fecha o grupo. Quando o stop salta níveis nunca vistos,
				// as dimensões intermediárias têm tamanho 1.
				if len(shapeInfo) == rank {
					shapeInfo[rank-1]++
				} else {
					if len(shapeInfo) == 1 {
						shapeInfo[0] = len(data)
					} else {
						shapeInfo[len(shapeInfo)-1]++
					}
					for len(shapeInfo) < rank {
						shapeInfo = append(shapeInfo, 1)
					}
				}
				tm.IncrCycles(1)
				break collect
			case len(shapeInfo) == st:
				shapeInfo[st-1]++
				shapeInfo = append(shapeInfo, 1)
				tracked = append(tracked, true)
			case len(shapeInfo) > st && len(tracked) <= st:
				shapeInfo[st]++
			}
		}
		tm.IncrCycles(1)
	}

	// shapeInfo está da dimensão interna para a externa; o buffer guarda
	// a forma em ordem row-major.
	shape := make([]int, len(shapeInfo))
	for i, s := range shapeInfo {
		shape[len(shapeInfo)-1-i] = s
	}
	total := 1
	for _, s := range shape {
		total *= s
	}
	if total != len(data) {
		return Buffer[T]{}, 0, fmt.Errorf("buffer: mismatched shape %v for %d elements", shape, len(data))
	}
	return NewBuffer(shape, data, creationTime), residual, nil
}
