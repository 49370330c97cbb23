// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package graph

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/step-sim/internal/sim"
	"github.com/nishisan-dev/step-sim/internal/stream"
)

// ErrEndpointClash: o mesmo lado do mesmo canal foi pedido duas vezes —
// id duplicado ou referência errada no grafo.
var ErrEndpointClash = errors.New("graph: conflicting channel endpoint request")

// endpoint guarda o lado ainda não conectado de um canal.
type endpoint[T any] struct {
	snd *sim.Sender[stream.Elem[T]]
	rcv *sim.Receiver[stream.Elem[T]]
}

// entry é o valor do mapa por produtor: um canal único ou o leque de um
// broadcast indexado por stream.
type entry[T any] struct {
	single    *endpoint[T]
	broadcast map[uint32]*endpoint[T]
}

// ChannelMap guarda, por (produtor, stream opcional), o lado de canal
// que ainda espera o par. Quando um canal é criado, um dos lados é
// consumido na hora e o outro fica aqui até o nó par ser materializado.
type ChannelMap[T any] struct {
	m map[uint32]*entry[T]
}

func (cm *ChannelMap[T]) init() {
	if cm.m == nil {
		cm.m = map[uint32]*entry[T]{}
	}
}

// Receiver consome (ou cria) a ponta de leitura do canal do produtor
// id/idx. depth <= 0 usa a profundidade default.
func (cm *ChannelMap[T]) Receiver(id uint32, idx *uint32, b *sim.Builder, depth int) (*sim.Receiver[stream.Elem[T]], error) {
	cm.init()
	if depth <= 0 {
		depth = sim.DefaultChannelDepth
	}
	ent := cm.m[id]

	if idx == nil {
		if ent != nil && ent.single != nil {
			if ent.single.rcv == nil {
				return nil, fmt.Errorf("%w: receiver for node %d already taken", ErrEndpointClash, id)
			}
			rcv := ent.single.rcv
			delete(cm.m, id)
			return rcv, nil
		}
		if ent != nil && ent.broadcast != nil {
			return nil, fmt.Errorf("%w: node %d is a broadcast producer, stream index required", ErrEndpointClash, id)
		}
		snd, rcv := sim.Bounded[stream.Elem[T]](b, depth)
		cm.m[id] = &entry[T]{single: &endpoint[T]{snd: snd}}
		return rcv, nil
	}

	if ent == nil {
		ent = &entry[T]{broadcast: map[uint32]*endpoint[T]{}}
		cm.m[id] = ent
	}
	if ent.broadcast == nil {
		return nil, fmt.Errorf("%w: node %d is not a broadcast producer", ErrEndpointClash, id)
	}
	if ep, ok := ent.broadcast[*idx]; ok {
		if ep.rcv == nil {
			return nil, fmt.Errorf("%w: receiver for node %d stream %d already taken", ErrEndpointClash, id, *idx)
		}
		rcv := ep.rcv
		delete(ent.broadcast, *idx)
		return rcv, nil
	}
	snd, rcv := sim.Bounded[stream.Elem[T]](b, depth)
	ent.broadcast[*idx] = &endpoint[T]{snd: snd}
	return rcv, nil
}

// Sender consome (ou cria) a ponta de escrita do canal do produtor
// id/idx.
func (cm *ChannelMap[T]) Sender(id uint32, idx *uint32, b *sim.Builder, depth int) (*sim.Sender[stream.Elem[T]], error) {
	cm.init()
	if depth <= 0 {
		depth = sim.DefaultChannelDepth
	}
	ent := cm.m[id]

	if idx == nil {
		if ent != nil && ent.single != nil {
			if ent.single.snd == nil {
				return nil, fmt.Errorf("%w: sender for node %d already taken", ErrEndpointClash, id)
			}
			snd := ent.single.snd
			delete(cm.m, id)
			return snd, nil
		}
		if ent != nil && ent.broadcast != nil {
			return nil, fmt.Errorf("%w: node %d is a broadcast producer, stream index required", ErrEndpointClash, id)
		}
		snd, rcv := sim.Bounded[stream.Elem[T]](b, depth)
		cm.m[id] = &entry[T]{single: &endpoint[T]{rcv: rcv}}
		return snd, nil
	}

	if ent == nil {
		ent = &entry[T]{broadcast: map[uint32]*endpoint[T]{}}
		cm.m[id] = ent
	}
	if ent.broadcast == nil {
		return nil, fmt.Errorf("%w: node %d is not a broadcast producer", ErrEndpointClash, id)
	}
	if ep, ok := ent.broadcast[*idx]; ok {
		if ep.snd == nil {
			return nil, fmt.Errorf("%w: sender for node %d stream %d already taken", ErrEndpointClash, id, *idx)
		}
		snd := ep.snd
		delete(ent.broadcast, *idx)
		return snd, nil
	}
	snd, rcv := sim.Bounded[stream.Elem[T]](b, depth)
	ent.broadcast[*idx] = &endpoint[T]{rcv: rcv}
	return snd, nil
}

// Dangling lista os ids com pontas ainda não conectadas — sobras
// indicam referências quebradas no grafo.
func (cm *ChannelMap[T]) Dangling() []uint32 {
	var out []uint32
	for id, ent := range cm.m {
		if ent.single == nil && len(ent.broadcast) == 0 {
			continue
		}
		out = append(out, id)
	}
	return out
}
