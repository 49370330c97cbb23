// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

// Selector é o contrato dos payloads de seleção de expert: um vetor de
// índices escolhidos, extraído de uma codificação densa ou esparsa.
type Selector interface {
	SelVec() []int
}

// SelectorPayload combina o contrato de seleção com a contabilidade de
// payload, para os operadores de roteamento genéricos.
type SelectorPayload[S any] interface {
	Payload[S]
	Selector
}

// MultiHot é um vetor booleano denso de largura N: a posição j verdadeira
// indica que o elemento corrente é despachado ao expert j.
type MultiHot struct {
	Bits   []bool
	FromMU bool
}

// NewMultiHot cria um seletor denso.
func NewMultiHot(bits []bool, fromMU bool) MultiHot {
	return MultiHot{Bits: bits, FromMU: fromMU}
}

// MultiHotFromSelVec constrói o vetor denso de largura size a partir dos
// índices escolhidos.
func MultiHotFromSelVec(indices []int, size int, fromMU bool) MultiHot {
	bits := make([]bool, size)
	for _, idx := range indices {
		bits[idx] = true
	}
	return MultiHot{Bits: bits, FromMU: fromMU}
}

// SelVec devolve os índices marcados, em ordem crescente.
func (m MultiHot) SelVec() []int {
	var out []int
	for idx, b := range m.Bits {
		if b {
			out = append(out, idx)
		}
	}
	return out
}

// Len retorna a largura do seletor.
func (m MultiHot) Len() int { return len(m.Bits) }

// SizeInBytes contabiliza um byte por posição.
func (m MultiHot) SizeInBytes() int { return len(m.Bits) }

// ReadFromMU informa se o seletor foi materializado numa PMU.
func (m MultiHot) ReadFromMU() bool { return m.FromMU }

// WithReadFromMU devolve uma cópia com a flag atualizada.
func (m MultiHot) WithReadFromMU(fromMU bool) MultiHot {
	m.FromMU = fromMU
	return m
}

// Equal compara os bits (a flag de MU não participa).
func (m MultiHot) Equal(o MultiHot) bool {
	if len(m.Bits) != len(o.Bits) {
		return false
	}
	for i := range m.Bits {
		if m.Bits[i] != o.Bits[i] {
			return false
		}
	}
	return true
}

// IndexN é a codificação esparsa: até K índices escolhidos, com -1
// representando uma posição vazia.
type IndexN struct {
	Indices []int
	FromMU  bool
}

// NewIndexN cria um seletor esparso.
func NewIndexN(indices []int, fromMU bool) IndexN {
	return IndexN{Indices: indices, FromMU: fromMU}
}

// IndexNFromSelVec constrói a forma esparsa a partir dos índices.
func IndexNFromSelVec(indices []int, fromMU bool) IndexN {
	out := make([]int, len(indices))
	copy(out, indices)
	return IndexN{Indices: out, FromMU: fromMU}
}

// SelVec devolve os índices presentes (ignora os vazios).
func (n IndexN) SelVec() []int {
	var out []int
	for _, idx := range n.Indices {
		if idx >= 0 {
			out = append(out, idx)
		}
	}
	return out
}

// SizeInBytes contabiliza 8 bytes por slot.
func (n IndexN) SizeInBytes() int { return 8 * len(n.Indices) }

// ReadFromMU informa se o seletor foi materializado numa PMU.
func (n IndexN) ReadFromMU() bool { return n.FromMU }

// WithReadFromMU devolve uma cópia com a flag atualizada.
func (n IndexN) WithReadFromMU(fromMU bool) IndexN {
	n.FromMU = fromMU
	return n
}
