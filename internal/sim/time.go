// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sim implementa o runtime de simulação discreta conservadora:
// relógios locais por ator, canais FIFO com timestamp e o scheduler
// que executa todos os atores até o programa quiescer.
package sim

import "sync/atomic"

// Cycle é o tipo do relógio simulado (ciclos desde o início da simulação).
type Cycle = uint64

// timeObserver é notificado quando o relógio de um sender avança.
// Os canais usam isso para manter a marca d'água ("nenhum elemento
// chegará antes de T") vista pelos receivers.
type timeObserver interface {
	senderTimeAdvanced(now Cycle)
}

// TimeManager mantém o relógio local de um ator. O relógio só avança —
// via IncrCycles, Advance, ou como efeito de operações de canal.
// Cada TimeManager pertence a exatamente um ator; leituras concorrentes
// (scheduler, canais) são atômicas.
type TimeManager struct {
	now       atomic.Uint64
	observers []timeObserver
}

// NewTimeManager cria um relógio zerado.
func NewTimeManager() *TimeManager {
	return &TimeManager{}
}

// Tick retorna o tempo atual sem avançar.
func (tm *TimeManager) Tick() Cycle {
	return tm.now.Load()
}

// IncrCycles avança o relógio em n ciclos.
func (tm *TimeManager) IncrCycles(n Cycle) {
	if n == 0 {
		return
	}
	now := tm.now.Add(n)
	tm.notify(now)
}

// Advance salta para max(atual, target).
func (tm *TimeManager) Advance(target Cycle) {
	for {
		cur := tm.now.Load()
		if target <= cur {
			return
		}
		if tm.now.CompareAndSwap(cur, target) {
			tm.notify(target)
			return
		}
	}
}

// observe registra um canal interessado em avanços deste relógio.
// Chamado apenas durante a montagem do programa, antes de Run.
func (tm *TimeManager) observe(o timeObserver) {
	tm.observers = append(tm.observers, o)
}

func (tm *TimeManager) notify(now Cycle) {
	for _, o := range tm.observers {
		o.senderTimeAdvanced(now)
	}
}
