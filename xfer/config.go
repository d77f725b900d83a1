// File: xfer/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xfer

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-xfer/control"
)

// Config holds session construction parameters. Zero limits leave the
// engine defaults in place.
type Config struct {
	Name string // label used in logs, metrics and debug probes

	MaxTotalConnections  int64 // simultaneously open connections
	MaxHostConnections   int64 // open connections per host
	MaxConnects          int64 // connection cache size
	MaxConcurrentStreams int64 // streams per multiplexed connection

	Logger  *zap.Logger
	Metrics *control.Metrics     // optional Prometheus collectors
	Probes  *control.DebugProbes // optional; the session registers a snapshot probe
}

// DefaultConfig returns a config with engine defaults and no observability.
func DefaultConfig() *Config {
	return &Config{
		Name:   "session",
		Logger: zap.NewNop(),
	}
}
