// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package host cuida do processo ao redor da simulação: amostragem de
// recursos da máquina durante um run, relato de progresso com taxa
// limitada e o daemon que re-executa workloads num schedule cron.
package host

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats são os picos observados durante um run.
type Stats struct {
	PeakCPUPercent    float64 `json:"peak_cpu_percent"`
	PeakMemoryPercent float64 `json:"peak_memory_percent"`
	LoadAverage       float64 `json:"load_average"`
	Samples           int     `json:"samples"`
}

// Monitor amostra CPU/memória periodicamente enquanto a simulação
// roda. Simulações grandes criam milhares de threads de ator; os picos
// vão para o resultado do run.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration
	close    chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// NewMonitor cria um monitor com o intervalo dado (default 1s).
func NewMonitor(logger *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		logger:   logger.With("component", "host_monitor"),
		interval: interval,
		close:    make(chan struct{}),
	}
}

// Start inicia a coleta periódica.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop encerra a coleta e devolve os picos.
func (m *Monitor) Stop() Stats {
	close(m.close)
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var sample Stats

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		sample.PeakCPUPercent = percentage[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		sample.PeakMemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}
	if l, err := load.Avg(); err == nil {
		sample.LoadAverage = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	if sample.PeakCPUPercent > m.stats.PeakCPUPercent {
		m.stats.PeakCPUPercent = sample.PeakCPUPercent
	}
	if sample.PeakMemoryPercent > m.stats.PeakMemoryPercent {
		m.stats.PeakMemoryPercent = sample.PeakMemoryPercent
	}
	m.stats.LoadAverage = sample.LoadAverage
	m.stats.Samples++
	m.mu.Unlock()
}
