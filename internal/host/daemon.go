// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc executa uma simulação completa do workload configurado.
type RunFunc func(ctx context.Context) error

// Daemon re-executa o workload num schedule cron — o loop de regressão
// de performance. Execuções não se sobrepõem: um disparo com o run
// anterior ainda ativo é pulado.
type Daemon struct {
	cron    *cron.Cron
	logger  *slog.Logger
	runFn   RunFunc
	mu      sync.Mutex
	running bool
}

// NewDaemon registra o job no schedule dado.
func NewDaemon(schedule string, runFn RunFunc, logger *slog.Logger) (*Daemon, error) {
	d := &Daemon{
		logger: logger.With("component", "daemon"),
		runFn:  runFn,
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, d.fire); err != nil {
		return nil, fmt.Errorf("adding cron job: %w", err)
	}
	d.cron = c
	return d, nil
}

func (d *Daemon) fire() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		d.logger.Warn("previous run still active, skipping scheduled execution")
		return
	}
	d.running = true
	d.mu.Unlock()

	start := time.Now()
	err := d.runFn(context.Background())
	elapsed := time.Since(start)

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("scheduled run failed", "error", err, "duration", elapsed)
		return
	}
	d.logger.Info("scheduled run completed", "duration", elapsed)
}

// Run bloqueia até SIGINT/SIGTERM, mantendo o scheduler ativo.
func (d *Daemon) Run() error {
	d.logger.Info("daemon started")
	d.cron.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	d.logger.Info("daemon stopping", "signal", sig.String())

	ctx := d.cron.Stop()
	select {
	case <-ctx.Done():
		d.logger.Info("daemon stopped gracefully")
	case <-time.After(time.Minute):
		d.logger.Warn("daemon stop timed out")
	}
	return nil
}
