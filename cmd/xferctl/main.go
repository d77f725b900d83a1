// File: cmd/xferctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// xferctl fetches a TOML-described batch of URLs through reactor-driven
// transfer sessions.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-xfer/control"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "batch description (TOML)")
	workers := flag.Int("workers", 0, "override the configured worker count")
	metricsAddr := flag.String("metrics", "", "override the metrics listen address")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "xferctl: -config is required")
		flag.Usage()
		return 2
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xferctl: %v\n", err)
		return 2
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *verbose {
		cfg.LogLevel = zapcore.DebugLevel
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xferctl: build logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := control.NewMetrics(reg)
	if err != nil {
		log.Error("register metrics", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	b := newBatch(cfg, log, metrics)
	log.Info("batch started", zap.Int("transfers", len(cfg.Jobs)), zap.Int("workers", cfg.Workers))
	if err := b.run(ctx); err != nil {
		log.Error("batch aborted", zap.Error(err), zap.Int64("done", b.done.Load()))
		return 1
	}
	if n := b.failed.Load(); n > 0 {
		log.Warn("batch finished with failures", zap.Int64("failed", n), zap.Int64("done", b.done.Load()))
		return 1
	}
	log.Info("batch finished", zap.Int64("done", b.done.Load()))
	return 0
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zc.Build()
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
