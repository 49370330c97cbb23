// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package mem modela a memória off-chip: um contexto HBM canalizado que
// serializa requisições de leitura/escrita, e os atores geradores de
// endereço (load/store enumerados, aleatórios e dinâmicos) que conversam
// com ele por canais de endereço/resposta.
package mem

import (
	"github.com/nishisan-dev/step-sim/internal/sim"
)

// PMUBandwidth é a banda de scratchpad on-chip em bytes por ciclo,
// usada pela contabilidade roofline dos operadores.
const PMUBandwidth uint64 = 64

// ParAddrs é um grupo de endereços despachado num único ciclo
// (par_dispatch requisições).
type ParAddrs []uint64

// HBMConfig parametriza o modelo de DRAM canalizada.
type HBMConfig struct {
	// AddrOffset é o número de bytes servidos por requisição
	// (largura do canal x burst length; 64 no HBM2).
	AddrOffset uint64 `yaml:"addr_offset"`
	ChannelNum uint64 `yaml:"channel_num"`
	// Latency é o atraso entre servir a requisição e entregar a resposta.
	Latency uint64 `yaml:"per_channel_latency"`
	// InitInterval é o intervalo mínimo entre inícios de requisição no
	// mesmo canal.
	InitInterval uint64 `yaml:"per_channel_init_interval"`
	// Outstanding limita requisições em voo por canal. Carregado da
	// configuração mas ainda sem efeito no modelo.
	Outstanding uint64 `yaml:"per_channel_outstanding"`
	// StartUpTime é o ciclo em que cada canal fica utilizável.
	StartUpTime uint64 `yaml:"per_channel_start_up_time"`
}

// ReadBundle liga um requisitante de leitura ao HBM: endereços entram
// por Addr, o endereço servido volta por Resp.
type ReadBundle struct {
	Addr *sim.Receiver[ParAddrs]
	Resp *sim.Sender[uint64]
}

// WriteBundle é o equivalente para escrita; Resp carrega o ack.
type WriteBundle struct {
	Addr *sim.Receiver[ParAddrs]
	Resp *sim.Sender[uint64]
}

// HBMContext é o único dono do estado dos canais de memória. Ele drena
// as requisições de todos os bundles em ordem global de timestamp
// (empates resolvidos pela ordem de registro, leitores antes de
// escritores) e responde com a latência do canal selecionado pelos bits
// baixos do endereço.
type HBMContext struct {
	ctx     *sim.Ctx
	cfg     HBMConfig
	readers []ReadBundle
	writers []WriteBundle
}

// NewHBMContext cria o contexto de memória.
func NewHBMContext(cfg HBMConfig) *HBMContext {
	return &HBMContext{ctx: sim.NewCtx("HBMContext", 0), cfg: cfg}
}

// AddReader registra um bundle de leitura.
func (h *HBMContext) AddReader(b ReadBundle) {
	b.Addr.Attach(h.ctx)
	b.Resp.Attach(h.ctx)
	h.readers = append(h.readers, b)
}

// AddWriter registra um bundle de escrita.
func (h *HBMContext) AddWriter(b WriteBundle) {
	b.Addr.Attach(h.ctx)
	b.Resp.Attach(h.ctx)
	h.writers = append(h.writers, b)
}

// Ctx implementa sim.Actor.
func (h *HBMContext) Ctx() *sim.Ctx { return h.ctx }

type hbmPort struct {
	addr *sim.Receiver[ParAddrs]
	resp *sim.Sender[uint64]
}

// Run arbitra requisições até todos os requisitantes encerrarem.
//
// A escolha é pelo menor timestamp entre as requisições, com empates
// pela ordem de registro (leitores antes de escritores). Um port sem
// requisição visível só é descartado quando a marca d'água do seu
// produtor garante que ele não pode mais bater o candidato — esperar
// além disso travaria os grafos em que o escritor depende das próprias
// respostas da memória, então o contexto avança o relógio até o
// candidato (propagando tempo rio abaixo) e re-examina a cada
// atividade nos canais de endereço.
func (h *HBMContext) Run() error {
	ports := make([]hbmPort, 0, len(h.readers)+len(h.writers))
	for _, r := range h.readers {
		ports = append(ports, hbmPort{addr: r.Addr, resp: r.Resp})
	}
	for _, w := range h.writers {
		ports = append(ports, hbmPort{addr: w.Addr, resp: w.Resp})
	}

	activity := make(chan struct{}, 1)
	for _, p := range ports {
		p.addr.NotifyOnActivity(activity)
	}

	nextFree := make([]sim.Cycle, h.cfg.ChannelNum)
	for i := range nextFree {
		nextFree[i] = h.cfg.StartUpTime
	}

	for {
		port, msg, done, ok := h.pickRequest(ports)
		if done {
			return nil
		}
		if !ok {
			<-activity
			continue
		}
		if _, err := ports[port].addr.Dequeue(); err != nil {
			return err
		}
		reqTime := msg.Time
		if now := h.ctx.Time.Tick(); now > reqTime {
			reqTime = now
		}
		for _, addr := range msg.Data {
			ch := (addr / h.cfg.AddrOffset) % h.cfg.ChannelNum
			serve := reqTime
			if nextFree[ch] > serve {
				serve = nextFree[ch]
			}
			respTime := serve + h.cfg.Latency
			nextFree[ch] = serve + h.cfg.InitInterval
			if err := ports[port].resp.Enqueue(respTime, addr); err != nil {
				return err
			}
		}
	}
}

// pickRequest faz uma passada não bloqueante por todos os ports.
// done=true quando todos fecharam; ok=false quando ainda não é seguro
// servir (aguardar atividade e repetir).
func (h *HBMContext) pickRequest(ports []hbmPort) (int, sim.Message[ParAddrs], bool, bool) {
	best := -1
	var bestMsg sim.Message[ParAddrs]
	allClosed := true
	for i := range ports {
		pr := ports[i].addr.Peek()
		if pr.Kind != sim.PeekClosed {
			allClosed = false
		}
		if pr.Kind == sim.PeekSomething && (best < 0 || pr.Msg.Time < bestMsg.Time) {
			best = i
			bestMsg = pr.Msg
		}
	}
	if allClosed {
		return 0, sim.Message[ParAddrs]{}, true, false
	}
	if best < 0 {
		return 0, sim.Message[ParAddrs]{}, false, false
	}

	// Propaga o tempo do candidato rio abaixo antes de decidir: é o que
	// permite aos requisitantes dependentes passarem do candidato.
	h.ctx.Time.Advance(bestMsg.Time)

	for i := range ports {
		if i == best {
			continue
		}
		pr := ports[i].addr.Peek()
		if pr.Kind != sim.PeekNothing {
			continue
		}
		// O port quieto ainda pode produzir uma requisição que bate o
		// candidato (tempo menor, ou empate com índice menor).
		if pr.NextTime < bestMsg.Time || (pr.NextTime == bestMsg.Time && i < best) {
			return 0, sim.Message[ParAddrs]{}, false, false
		}
	}
	return best, bestMsg, false, true
}
