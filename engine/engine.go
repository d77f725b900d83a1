// File: engine/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine is a small plain-HTTP transfer engine speaking HTTP/1.0 over
// non-blocking sockets. It implements api.Engine and the multiplexer socket
// protocol, so sessions can drive it from any reactor.

package engine

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/pool"
)

const (
	defaultBufferSize     = 16 * 1024
	defaultConnectTimeout = 300 * time.Second
	maxRedirects          = 20
	defaultDNSCacheSize   = 256
	defaultDNSTTL         = time.Minute
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option { return func(e *Engine) { e.log = log } }

// WithClock replaces the clock used for timeouts and timings.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithResolver replaces host name resolution.
func WithResolver(r Resolver) Option { return func(e *Engine) { e.lookup = r } }

// WithDNSCache sizes the resolved-address cache; size 0 disables it.
func WithDNSCache(size int, ttl time.Duration) Option {
	return func(e *Engine) {
		e.dnsSize = size
		e.dnsTTL = ttl
	}
}

// Engine creates transfers and multiplexers sharing one DNS cache.
type Engine struct {
	log     *zap.Logger
	clock   clock.Clock
	lookup  Resolver
	dnsSize int
	dnsTTL  time.Duration
	dns     *dnsCache
	bufs    *pool.BytePool
}

// New builds an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:     zap.NewNop(),
		clock:   clock.New(),
		lookup:  systemResolver,
		dnsSize: defaultDNSCacheSize,
		dnsTTL:  defaultDNSTTL,
		bufs:    pool.New(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dns = newDNSCache(e.lookup, e.dnsSize, e.dnsTTL)
	return e
}

// NewTransfer implements api.Engine.
func (e *Engine) NewTransfer() (api.Transfer, error) {
	return newTransfer(e), nil
}

// NewMulti implements api.Engine.
func (e *Engine) NewMulti() (api.Multi, error) {
	return newMulti(e), nil
}

// DNSCacheLen returns the number of cached host entries.
func (e *Engine) DNSCacheLen() int { return e.dns.len() }

// BufferStats reports receive buffer pool traffic. Safe from any goroutine.
func (e *Engine) BufferStats() pool.Stats { return e.bufs.Stats() }
