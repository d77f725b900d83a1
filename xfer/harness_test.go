package xfer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/fake"
)

type harness struct {
	engine  *fake.Engine
	reactor *fake.Reactor
	session *Session
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, tweak ...func(*Config)) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Logger = zap.New(core)
	for _, fn := range tweak {
		fn(cfg)
	}
	h := &harness{engine: fake.NewEngine(), reactor: fake.NewReactor(), logs: logs}
	s, err := NewSession(h.engine, h.reactor, cfg)
	require.NoError(t, err)
	h.session = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *harness) multi() *fake.Multi { return h.engine.LastMulti() }

func (h *harness) timer() *fake.Timer { return h.reactor.Timer(0) }

// unit builds a unit aimed at url that records its body and outcome.
func (h *harness) unit(t *testing.T, url string) (*Unit, *result) {
	t.Helper()
	u, err := NewUnit(h.engine)
	require.NoError(t, err)
	require.NoError(t, u.SetURL(url))
	r := &result{}
	require.NoError(t, u.SetWriteFunc(func(p []byte) int {
		r.body = append(r.body, p...)
		return len(p)
	}))
	u.SetDoneFunc(func(err error) {
		r.calls++
		r.err = err
	})
	t.Cleanup(u.Close)
	return u, r
}

type result struct {
	body  []byte
	calls int
	err   error
}

func fakeXfer(u *Unit) *fake.Transfer { return u.Transfer().(*fake.Transfer) }

// connect walks the transfer on fd through connect and hands it one
// readable event per chunk.
func (h *harness) connect(t *testing.T, fd api.Socket) *fake.IO {
	t.Helper()
	w := h.reactor.Watch(fd)
	require.NotNil(t, w, "no watch on %d", fd)
	require.Equal(t, api.EventWrite, w.RequestedEvents())
	w.Fire(api.EventWrite)
	require.Equal(t, api.EventRead, w.RequestedEvents())
	return w
}
