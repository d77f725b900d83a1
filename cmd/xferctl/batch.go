// File: cmd/xferctl/batch.go
// Author: momentics <momentics@gmail.com>
//
// Runs a batch: one reactor goroutine and session per worker, jobs dealt out
// round-robin.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-xfer/affinity"
	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/control"
	"github.com/momentics/hioload-xfer/engine"
	"github.com/momentics/hioload-xfer/reactor"
	"github.com/momentics/hioload-xfer/xfer"
)

type batch struct {
	cfg     Config
	log     *zap.Logger
	metrics *control.Metrics
	eng     *engine.Engine

	done   atomic.Int64
	failed atomic.Int64
}

func newBatch(cfg Config, log *zap.Logger, metrics *control.Metrics) *batch {
	return &batch{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		eng:     engine.New(engine.WithLogger(log.Named("engine"))),
	}
}

// shard returns the jobs dealt to worker w of n.
func shard(jobs []Job, w, n int) []Job {
	var out []Job
	for i := w; i < len(jobs); i += n {
		out = append(out, jobs[i])
	}
	return out
}

func (b *batch) run(ctx context.Context) error {
	if b.cfg.OutputDir != "" {
		if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < b.cfg.Workers; w++ {
		jobs := shard(b.cfg.Jobs, w, b.cfg.Workers)
		if len(jobs) == 0 {
			continue
		}
		g.Go(func() error {
			if b.cfg.PinWorkers {
				release, err := affinity.Pin(affinity.CPUFor(w))
				if err != nil {
					b.log.Warn("pin worker", zap.Int("worker", w), zap.Error(err))
				} else {
					defer release()
				}
			}
			return b.worker(ctx, fmt.Sprintf("worker-%d", w), jobs)
		})
	}
	return g.Wait()
}

func (b *batch) worker(ctx context.Context, name string, jobs []Job) error {
	log := b.log.With(zap.String("worker", name))
	loop, err := reactor.New(reactor.WithLogger(log.Named("reactor")))
	if err != nil {
		return err
	}
	defer func() {
		if err := loop.Close(); err != nil {
			log.Warn("close reactor", zap.Error(err))
		}
	}()

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("engine.buffers", func() any { return b.eng.BufferStats() })
	sess, err := xfer.NewSession(b.eng, loop, &xfer.Config{
		Name:                name,
		MaxTotalConnections: b.cfg.MaxTotalConnections,
		MaxHostConnections:  b.cfg.MaxHostConnections,
		Logger:              log,
		Metrics:             b.metrics,
		Probes:              probes,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("close session", zap.Error(err))
		}
	}()

	var sessErr error
	sess.OnError(func(err error) {
		sessErr = err
		loop.Stop()
	})

	pending := len(jobs)
	finish := func() {
		pending--
		if pending == 0 {
			loop.Stop()
		}
	}
	for i, job := range jobs {
		if sess.Stopped() {
			log.Error("session stopped, skipping remaining transfers", zap.Int("skipped", len(jobs)-i))
			b.failed.Add(int64(len(jobs) - i))
			break
		}
		u, err := b.prepare(job, log, finish)
		if err != nil {
			log.Error("prepare transfer", zap.String("url", job.URL), zap.Error(err))
			b.failed.Add(1)
			finish()
			continue
		}
		if err := sess.Add(u); err != nil {
			// a stopped session already completed the unit
			if sess.Stopped() {
				continue
			}
			log.Error("add transfer", zap.String("url", job.URL), zap.Error(err))
			u.Close()
			b.failed.Add(1)
			finish()
		}
	}

	if b.cfg.StatsInterval > 0 {
		stats := loop.NewTimer()
		stats.OnTimeout(func() {
			log.Info("worker state", zap.Any("probes", probes.DumpState()))
			stats.Set(b.cfg.StatsInterval)
		})
		stats.Set(b.cfg.StatsInterval)
		defer stats.Cancel()
	}

	if pending > 0 && !sess.Stopped() {
		if err := loop.Run(ctx); err != nil {
			return err
		}
	}
	return sessErr
}

// prepare builds the unit for job. finish runs once the unit completed.
func (b *batch) prepare(job Job, log *zap.Logger, finish func()) (*xfer.Unit, error) {
	u, err := xfer.NewUnit(b.eng)
	if err != nil {
		return nil, err
	}
	if err := b.configure(u, job); err != nil {
		u.Close()
		return nil, err
	}

	var out *os.File
	if job.Output != "" && b.cfg.OutputDir != "" {
		if out, err = os.Create(filepath.Join(b.cfg.OutputDir, job.Output)); err != nil {
			u.Close()
			return nil, err
		}
	}
	var written int64
	if err := u.SetWriteFunc(func(p []byte) int {
		if out != nil {
			if _, err := out.Write(p); err != nil {
				log.Error("write output", zap.String("file", out.Name()), zap.Error(err))
				return 0
			}
		}
		written += int64(len(p))
		return len(p)
	}); err != nil {
		u.Close()
		return nil, err
	}

	started := time.Now()
	u.SetDoneFunc(func(err error) {
		if out != nil {
			if cerr := out.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		code, _ := u.ResponseCode()
		fields := []zap.Field{
			zap.String("url", job.URL),
			zap.Int64("code", code),
			zap.Int64("bytes", written),
			zap.Duration("elapsed", time.Since(started)),
		}
		b.done.Add(1)
		if err != nil {
			b.failed.Add(1)
			log.Warn("transfer failed", append(fields, zap.Error(err))...)
		} else {
			log.Info("transfer done", fields...)
		}
		u.Close()
		finish()
	})
	return u, nil
}

func (b *batch) configure(u *xfer.Unit, job Job) error {
	if err := u.SetURL(job.URL); err != nil {
		return err
	}
	if b.cfg.UserAgent != "" {
		if err := u.SetUserAgent(b.cfg.UserAgent); err != nil {
			return err
		}
	}
	if err := u.SetFollowLocation(b.cfg.FollowRedirects); err != nil {
		return err
	}
	if b.cfg.ConnectTimeout > 0 {
		if err := u.SetConnectTimeout(b.cfg.ConnectTimeout); err != nil {
			return err
		}
	}
	if job.Timeout > 0 {
		if err := u.SetTimeout(job.Timeout); err != nil {
			return err
		}
	}
	if len(job.Headers) > 0 {
		if err := u.SetHeaders(api.NewList(job.Headers...)); err != nil {
			return err
		}
	}
	if job.Body != nil {
		if err := u.SetPostFields(job.Body); err != nil {
			return err
		}
	}
	switch job.Method {
	case "", "GET":
	case "HEAD":
		return u.SetNoBody(true)
	default:
		return u.SetCustomRequest(job.Method)
	}
	return nil
}
