// File: cmd/xferctl/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

type fileConfig struct {
	Workers             int            `toml:"workers"`
	OutputDir           string         `toml:"output_dir"`
	UserAgent           string         `toml:"user_agent"`
	Timeout             string         `toml:"timeout"`
	ConnectTimeout      string         `toml:"connect_timeout"`
	FollowRedirects     bool           `toml:"follow_redirects"`
	MaxTotalConnections int64          `toml:"max_total_connections"`
	MaxHostConnections  int64          `toml:"max_host_connections"`
	MetricsAddr         string         `toml:"metrics_addr"`
	LogLevel            string         `toml:"log_level"`
	StatsInterval       string         `toml:"stats_interval"`
	PinWorkers          bool           `toml:"pin_workers"`
	Transfers           []fileTransfer `toml:"transfer"`
}

type fileTransfer struct {
	URL     string   `toml:"url"`
	Method  string   `toml:"method"`
	Headers []string `toml:"headers"`
	Body    string   `toml:"body"`
	Output  string   `toml:"output"`
	Timeout string   `toml:"timeout"`
}

// Config is a validated batch description.
type Config struct {
	Workers             int
	OutputDir           string
	UserAgent           string
	Timeout             time.Duration
	ConnectTimeout      time.Duration
	FollowRedirects     bool
	MaxTotalConnections int64
	MaxHostConnections  int64
	MetricsAddr         string
	LogLevel            zapcore.Level
	StatsInterval       time.Duration
	PinWorkers          bool // bind each worker's reactor thread to its own CPU
	Jobs                []Job
}

// Job is one transfer of the batch.
type Job struct {
	URL     string
	Method  string
	Headers []string
	Body    []byte
	Output  string // file name under OutputDir; empty discards the body
	Timeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Workers:         1,
		UserAgent:       "xferctl/1.0",
		ConnectTimeout:  30 * time.Second,
		FollowRedirects: true,
		LogLevel:        zapcore.InfoLevel,
	}
}

func loadConfig(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load xferctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load xferctl config: unknown key %q", undecoded[0].String())
	}
	return parseConfig(raw, meta)
}

func parseConfig(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := defaultConfig()

	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("output_dir") {
		cfg.OutputDir = strings.TrimSpace(raw.OutputDir)
	}
	if meta.IsDefined("user_agent") {
		cfg.UserAgent = strings.TrimSpace(raw.UserAgent)
	}
	if meta.IsDefined("timeout") {
		d, err := parseDuration("timeout", raw.Timeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("follow_redirects") {
		cfg.FollowRedirects = raw.FollowRedirects
	}
	if meta.IsDefined("max_total_connections") {
		cfg.MaxTotalConnections = raw.MaxTotalConnections
	}
	if meta.IsDefined("max_host_connections") {
		cfg.MaxHostConnections = raw.MaxHostConnections
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		lvl, err := zapcore.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = lvl
	}
	if meta.IsDefined("stats_interval") {
		d, err := parseDuration("stats_interval", raw.StatsInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.StatsInterval = d
	}

	if meta.IsDefined("pin_workers") {
		cfg.PinWorkers = raw.PinWorkers
	}

	for i, tr := range raw.Transfers {
		job := Job{
			URL:     strings.TrimSpace(tr.URL),
			Method:  strings.ToUpper(strings.TrimSpace(tr.Method)),
			Headers: normalizeHeaders(tr.Headers),
			Output:  strings.TrimSpace(tr.Output),
			Timeout: cfg.Timeout,
		}
		if tr.Body != "" {
			job.Body = []byte(tr.Body)
		}
		if tr.Timeout != "" {
			d, err := parseDuration(fmt.Sprintf("transfer[%d].timeout", i), tr.Timeout)
			if err != nil {
				return Config{}, err
			}
			job.Timeout = d
		}
		cfg.Jobs = append(cfg.Jobs, job)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var err error
	if c.Workers < 1 {
		err = multierr.Append(err, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxTotalConnections < 0 || c.MaxHostConnections < 0 {
		err = multierr.Append(err, errors.New("connection limits must not be negative"))
	}
	if len(c.Jobs) == 0 {
		err = multierr.Append(err, errors.New("no [[transfer]] entries"))
	}
	outputs := map[string]int{}
	for i, j := range c.Jobs {
		if j.URL == "" {
			err = multierr.Append(err, fmt.Errorf("transfer[%d]: url is required", i))
		}
		if j.Method == http.MethodHead && j.Body != nil {
			err = multierr.Append(err, fmt.Errorf("transfer[%d]: HEAD cannot carry a body", i))
		}
		if j.Output == "" {
			continue
		}
		if strings.Contains(j.Output, "..") {
			err = multierr.Append(err, fmt.Errorf("transfer[%d]: output %q leaves output_dir", i, j.Output))
		}
		if prev, dup := outputs[j.Output]; dup {
			err = multierr.Append(err, fmt.Errorf("transfer[%d]: output %q already used by transfer[%d]", i, j.Output, prev))
		}
		outputs[j.Output] = i
	}
	return err
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration", key)
	}
	return d, nil
}

func normalizeHeaders(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}
