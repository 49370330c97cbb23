// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sim

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultChannelDepth é a profundidade usada quando nem a configuração
// global nem o override por canal especificam uma.
const DefaultChannelDepth = 1024

type sendCloser interface {
	closeSend()
}

// Ctx é o contexto de execução de um ator: nome, id do nó de origem,
// relógio local e os canais de saída a fechar quando Run retornar.
type Ctx struct {
	Time *TimeManager

	name    string
	id      uint32
	closers []sendCloser
}

// NewCtx cria o contexto de um ator.
func NewCtx(name string, id uint32) *Ctx {
	return &Ctx{Time: NewTimeManager(), name: name, id: id}
}

// Name retorna o nome do ator (tipo do operador).
func (c *Ctx) Name() string { return c.name }

// ID retorna o id do nó do grafo associado.
func (c *Ctx) ID() uint32 { return c.id }

func (c *Ctx) addCloser(s sendCloser) {
	c.closers = append(c.closers, s)
}

// Shutdown fecha todos os senders do ator. O scheduler o chama ao fim
// de Run — inclusive em erro, para que a propagação de fechamento drene
// o resto do programa; fontes dirigidas à mão (testes) chamam direto.
func (c *Ctx) Shutdown() {
	for _, s := range c.closers {
		s.closeSend()
	}
}

// Actor é uma unidade de execução presa a um nó do grafo. Run processa
// até as fontes se exaurirem; erros de protocolo encerram o ator e a
// simulação inteira reporta a primeira falha.
type Actor interface {
	Run() error
	Ctx() *Ctx
}

// Builder acumula atores e canais durante a montagem do programa.
type Builder struct {
	actors []Actor
	nextID uint32
}

// NewBuilder cria um builder vazio.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registra um ator construído.
func (b *Builder) Add(a Actor) {
	b.actors = append(b.actors, a)
}

func (b *Builder) chanID() uint32 {
	b.nextID++
	return b.nextID
}

// Bounded cria um canal com capacidade cap (>= 1).
func Bounded[T any](b *Builder, capacity int) (*Sender[T], *Receiver[T]) {
	if capacity < 1 {
		capacity = 1
	}
	ch := newChannel[T](capacity, b.chanID())
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

// Unbounded cria um canal sem limite de capacidade.
func Unbounded[T any](b *Builder) (*Sender[T], *Receiver[T]) {
	ch := newChannel[T](0, b.chanID())
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

// Run executa todos os atores, um por goroutine, até o programa
// quiescer. Retorna os ciclos decorridos (máximo observado entre todos
// os relógios) e o primeiro erro, se houver.
func (b *Builder) Run() (Cycle, error) {
	var g errgroup.Group
	for _, a := range b.actors {
		actor := a
		g.Go(func() error {
			defer actor.Ctx().Shutdown()
			if err := actor.Run(); err != nil {
				return fmt.Errorf("%s (node %d): %w", actor.Ctx().Name(), actor.Ctx().ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	var elapsed Cycle
	for _, a := range b.actors {
		if t := a.Ctx().Time.Tick(); t > elapsed {
			elapsed = t
		}
	}
	return elapsed, err
}
