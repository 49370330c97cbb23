// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nishisan-dev/step-sim/internal/config"
	"github.com/nishisan-dev/step-sim/internal/driver"
	"github.com/nishisan-dev/step-sim/internal/events"
	"github.com/nishisan-dev/step-sim/internal/graph"
	"github.com/nishisan-dev/step-sim/internal/host"
	"github.com/nishisan-dev/step-sim/internal/logging"
)

func main() {
	configPath := flag.String("config", "sim.yaml", "path to simulator config file")
	once := flag.Bool("once", false, "run the workload once and exit (ignore daemon schedule)")
	monitor := flag.Bool("monitor", true, "sample host resources during the run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	runOnce := func(ctx context.Context) error {
		prog, err := graph.JSONSource{Path: cfg.Graph}.Load()
		if err != nil {
			return err
		}

		sink, err := traceSink(ctx, cfg.Trace)
		if err != nil {
			return err
		}
		// O reporter limita o log de progresso: traces grandes chegam a
		// milhões de invocações.
		reporter := host.NewReporter(logger, 1)
		sink = &progressSink{Sink: sink, reporter: reporter}
		evLog := events.NewLogger(sink, cfg.Trace.RingCap)
		defer evLog.Close()

		result, err := driver.Run(ctx, prog, cfg.Sim, cfg.HBM, driver.Options{
			Logger:  logger,
			Events:  evLog,
			Monitor: *monitor,
		})
		if err != nil {
			return err
		}
		logger.Info("run result",
			"passed", result.Passed,
			"elapsed_cycles", result.ElapsedCycles,
			"duration_ms", result.DurationMs,
			"peak_cpu", result.Host.PeakCPUPercent,
			"peak_mem", result.Host.PeakMemoryPercent,
		)
		return nil
	}

	if cfg.Daemon.Schedule != "" && !*once {
		daemon, err := host.NewDaemon(cfg.Daemon.Schedule, runOnce, logger)
		if err != nil {
			logger.Error("daemon setup failed", "error", err)
			os.Exit(1)
		}
		if err := daemon.Run(); err != nil {
			logger.Error("daemon error", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runOnce(context.Background()); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

// progressSink encadeia o relato de progresso no caminho do trace.
type progressSink struct {
	events.Sink
	reporter *host.Reporter
	count    uint64
}

func (p *progressSink) Append(rec events.Record) error {
	p.count++
	p.reporter.Report("trace progress", "records", p.count, "cycle", rec.End)
	return p.Sink.Append(rec)
}

// traceSink materializa o destino do trace de eventos.
func traceSink(ctx context.Context, trace config.TraceInfo) (events.Sink, error) {
	switch trace.Sink {
	case "file":
		return events.NewFileSink(trace.Path)
	case "s3":
		return events.NewS3Sink(ctx, trace.Bucket, trace.Prefix)
	default:
		return events.NopSink{}, nil
	}
}
