package xfer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/control"
	"github.com/momentics/hioload-xfer/fake"
)

func TestSingleTransferOverSocket(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{
		Chunks: [][]byte{[]byte("hello "), []byte("world")},
	})
	u, r := h.unit(t, "http://a/")

	require.NoError(t, h.session.Add(u))
	assert.Same(t, h.session, u.Owner())
	assert.Equal(t, 1, h.session.Running())
	assert.Equal(t, 1, h.session.Watches())

	w := h.connect(t, fake.FirstSocket)
	w.Fire(api.EventRead)
	assert.Equal(t, 0, r.calls)
	w.Fire(api.EventRead)

	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, "hello world", string(r.body))
	assert.Nil(t, u.Owner())
	assert.Equal(t, 0, h.session.Len())
	assert.Equal(t, 0, h.session.Running())
	assert.Equal(t, 0, h.session.Watches())
	assert.True(t, w.Closed())
	assert.Nil(t, h.multi().Assigned(fake.FirstSocket))

	code, err := u.ResponseCode()
	require.NoError(t, err)
	assert.Equal(t, int64(200), code)
}

func TestImmediateCompletionDuringAdd(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://fast/", fake.Route{Chunks: [][]byte{[]byte("x")}, Immediate: true})
	u, r := h.unit(t, "http://fast/")

	require.NoError(t, h.session.Add(u))
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, "x", string(r.body))
	assert.Nil(t, u.Owner())
	assert.Equal(t, 0, h.reactor.LiveWatches())
}

func TestFailedTransferReportsResultCode(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://partial/", fake.Route{Result: api.ResultPartialFile, Immediate: true})
	u, r := h.unit(t, "http://partial/")
	missing, rm := h.unit(t, "http://nowhere/")

	require.NoError(t, h.session.Add(u))
	var code api.ResultCode
	require.ErrorAs(t, r.err, &code)
	assert.Equal(t, api.ResultPartialFile, code)

	require.NoError(t, h.session.Add(missing))
	assert.ErrorIs(t, rm.err, api.ResultCouldntResolveHost)
}

func TestDoneCallbackMayReAdd(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://loop/", fake.Route{Chunks: [][]byte{[]byte("ab")}, Immediate: true})
	u, r := h.unit(t, "http://loop/")

	var addErrs []error
	u.SetDoneFunc(func(err error) {
		r.calls++
		if r.calls < 3 {
			addErrs = append(addErrs, h.session.Add(u))
		}
	})

	require.NoError(t, h.session.Add(u))
	assert.Equal(t, 3, r.calls)
	assert.Equal(t, "ababab", string(r.body))
	assert.Equal(t, []error{nil, nil}, addErrs)
	assert.Nil(t, u.Owner())
}

func TestDoneCallbackMayReconfigureAndReAdd(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://one/", fake.Route{Chunks: [][]byte{[]byte("1")}, Immediate: true})
	h.engine.Handle("http://two/", fake.Route{Chunks: [][]byte{[]byte("2")}})
	u, r := h.unit(t, "http://one/")

	u.SetDoneFunc(func(err error) {
		r.calls++
		if r.calls == 1 {
			require.NoError(t, u.SetURL("http://two/"))
			require.NoError(t, h.session.Add(u))
		}
	})
	require.NoError(t, h.session.Add(u))
	assert.Equal(t, 1, r.calls)
	assert.Same(t, h.session, u.Owner())

	w := h.connect(t, fake.FirstSocket)
	w.Fire(api.EventRead)
	assert.Equal(t, 2, r.calls)
	assert.Equal(t, "12", string(r.body))
	url, err := u.EffectiveURL()
	require.NoError(t, err)
	assert.Equal(t, "http://two/", url)
}

func TestOwnershipRules(t *testing.T) {
	h := newHarness(t)
	other := newHarness(t)
	h.engine.Handle("http://slow/", fake.Route{Chunks: [][]byte{[]byte("z")}})
	u, r := h.unit(t, "http://slow/")

	require.NoError(t, h.session.Add(u))
	assert.ErrorIs(t, h.session.Add(u), ErrAlreadyOwned)
	assert.ErrorIs(t, other.session.Add(u), ErrOwnedElsewhere)
	assert.ErrorIs(t, other.session.Remove(u), ErrOwnedElsewhere)
	assert.Equal(t, 1, h.session.Len())

	require.NoError(t, h.session.Remove(u))
	assert.Nil(t, u.Owner())
	assert.ErrorIs(t, h.session.Remove(u), ErrAlreadyRemoved)
	assert.Equal(t, 0, r.calls, "removal does not complete the unit")
	assert.Equal(t, 0, h.session.Running())
	assert.Equal(t, 0, h.reactor.LiveWatches(), "engine dropped the socket with the transfer")

	// the idle session bootstraps again
	require.NoError(t, h.session.Add(u))
	assert.NotNil(t, h.reactor.Watch(fake.FirstSocket+1))
}

func TestAddClosedUnit(t *testing.T) {
	h := newHarness(t)
	u, _ := h.unit(t, "http://a/")
	u.Close()
	assert.ErrorIs(t, h.session.Add(u), ErrBadHandle)
}

func TestSecondUnitStartsOnTimer(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Chunks: [][]byte{[]byte("a")}})
	h.engine.Handle("http://b/", fake.Route{Chunks: [][]byte{[]byte("b")}})
	ua, ra := h.unit(t, "http://a/")
	ub, rb := h.unit(t, "http://b/")

	require.NoError(t, h.session.Add(ua))
	require.NoError(t, h.session.Add(ub))
	assert.Equal(t, 2, h.session.Len())
	assert.Nil(t, h.reactor.Watch(fake.FirstSocket+1), "running session does not bootstrap")

	require.True(t, h.timer().Armed())
	assert.Equal(t, time.Duration(0), h.timer().After())
	require.True(t, h.timer().Fire())
	assert.Equal(t, 2, h.session.Running())

	wb := h.connect(t, fake.FirstSocket+1)
	wb.Fire(api.EventRead)
	assert.Equal(t, 1, rb.calls)
	assert.Equal(t, 0, ra.calls)
	assert.Equal(t, 1, h.session.Running())

	wa := h.connect(t, fake.FirstSocket)
	wa.Fire(api.EventRead)
	assert.Equal(t, 1, ra.calls)
	assert.Equal(t, 0, h.session.Len())
}

func TestStopCompletesEverything(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Chunks: [][]byte{[]byte("a")}})
	h.engine.Handle("http://b/", fake.Route{Chunks: [][]byte{[]byte("b")}})
	ua, ra := h.unit(t, "http://a/")
	ub, rb := h.unit(t, "http://b/")
	require.NoError(t, h.session.Add(ua))
	require.NoError(t, h.session.Add(ub))
	require.True(t, h.timer().Fire())
	require.Equal(t, 2, h.reactor.LiveWatches())

	var errs []error
	h.session.OnError(func(err error) { errs = append(errs, err) })
	h.session.Stop()

	assert.True(t, h.session.Stopped())
	assert.Equal(t, stopped, h.session.Running())
	assert.ErrorIs(t, ra.err, ErrSessionStopped)
	assert.ErrorIs(t, rb.err, ErrSessionStopped)
	assert.Nil(t, ua.Owner())
	assert.Nil(t, ub.Owner())
	assert.True(t, h.multi().Closed())
	assert.Equal(t, 0, h.reactor.LiveWatches())
	assert.False(t, h.timer().Armed())
	assert.Empty(t, errs, "a requested stop is not an engine error")

	h.session.Stop()
	assert.NoError(t, h.session.Close())
	assert.Equal(t, 1, ra.calls)
	assert.Equal(t, 1, rb.calls)

	err := h.session.Add(ua)
	assert.ErrorIs(t, err, ErrSessionStopped)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, h.session.SetMaxConnects(4), ErrSessionStopped)
}

func TestStopFromDoneCallback(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Immediate: true})
	h.engine.Handle("http://b/", fake.Route{Chunks: [][]byte{[]byte("b")}})
	ub, rb := h.unit(t, "http://b/")
	ua, ra := h.unit(t, "http://a/")
	require.NoError(t, h.session.Add(ub))

	ua.SetDoneFunc(func(err error) {
		ra.calls++
		h.session.Stop()
	})
	require.NoError(t, h.session.Add(ua))
	require.True(t, h.timer().Fire())

	assert.Equal(t, 1, ra.calls)
	assert.True(t, h.session.Stopped())
	assert.ErrorIs(t, rb.err, ErrSessionStopped)
}

func TestEngineErrorStopsSession(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Chunks: [][]byte{[]byte("a")}})
	u, r := h.unit(t, "http://a/")
	require.NoError(t, h.session.Add(u))

	boom := errors.New("boom")
	var got error
	h.session.OnError(func(err error) { got = err })
	h.multi().FailNextAction = boom
	h.reactor.Watch(fake.FirstSocket).Fire(api.EventWrite)

	assert.Same(t, boom, got)
	assert.True(t, h.session.Stopped())
	assert.ErrorIs(t, r.err, ErrSessionStopped)
	assert.Equal(t, 0, h.reactor.LiveWatches())

	entries := h.logs.FilterMessage("session stopped by engine error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, int64(1), entries[0].ContextMap()["pool"])
}

func TestBootstrapFailure(t *testing.T) {
	h := newHarness(t)
	u, r := h.unit(t, "http://a/")
	boom := errors.New("boom")
	h.multi().FailNextAction = boom

	err := h.session.Add(u)
	assert.ErrorIs(t, err, ErrSessionStopped)
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.session.Stopped())
	assert.Equal(t, 1, r.calls)
	assert.ErrorIs(t, r.err, ErrSessionStopped)
}

func TestSocketReassignment(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Chunks: [][]byte{[]byte("a")}})
	u, r := h.unit(t, "http://a/")
	require.NoError(t, h.session.Add(u))

	w := h.reactor.Watch(fake.FirstSocket)
	require.NotNil(t, w)
	h.multi().Reassign(fake.FirstSocket, 200)

	assert.Nil(t, h.reactor.Watch(fake.FirstSocket))
	assert.Same(t, w, h.reactor.Watch(200))
	assert.Equal(t, 1, w.Moves())
	assert.Equal(t, 1, h.session.Watches())

	h.connect(t, 200).Fire(api.EventRead)
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.True(t, w.Closed())
}

func TestErrorReadinessFailsTransfer(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Chunks: [][]byte{[]byte("a")}})
	u, r := h.unit(t, "http://a/")
	require.NoError(t, h.session.Add(u))

	h.reactor.Watch(fake.FirstSocket).Fire(api.EventError)
	assert.ErrorIs(t, r.err, api.ResultRecvError)
	assert.False(t, h.session.Stopped())
}

func TestTimerProtocol(t *testing.T) {
	h := newHarness(t)
	h.session.timerFunc(250)
	assert.True(t, h.timer().Armed())
	assert.Equal(t, 250*time.Millisecond, h.timer().After())

	h.session.timerFunc(-1)
	assert.False(t, h.timer().Armed())

	h.session.timerFunc(0)
	assert.True(t, h.timer().Armed())
	assert.True(t, h.timer().Fire())
	assert.Equal(t, 1, h.multi().Actions())
}

func TestPollNoneSuspendsWatch(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Chunks: [][]byte{[]byte("a")}})
	u, _ := h.unit(t, "http://a/")
	require.NoError(t, h.session.Add(u))

	w := h.reactor.Watch(fake.FirstSocket)
	h.session.socketFunc(u.Transfer(), fake.FirstSocket, api.PollNone, h.multi().Assigned(fake.FirstSocket))
	assert.Equal(t, api.EventMask(0), w.RequestedEvents())
	assert.False(t, w.Closed())

	h.session.socketFunc(u.Transfer(), fake.FirstSocket, api.PollInOut, h.multi().Assigned(fake.FirstSocket))
	assert.Equal(t, api.EventRead|api.EventWrite, w.RequestedEvents())
}

func TestPausedTransferResumesOnTimer(t *testing.T) {
	h := newHarness(t)
	h.engine.Handle("http://a/", fake.Route{Chunks: [][]byte{[]byte("1"), []byte("2")}})
	u, r := h.unit(t, "http://a/")

	stall := true
	require.NoError(t, u.SetWriteFunc(func(p []byte) int {
		if stall {
			stall = false
			return api.WritePause
		}
		r.body = append(r.body, p...)
		return len(p)
	}))
	require.NoError(t, h.session.Add(u))
	w := h.connect(t, fake.FirstSocket)

	w.Fire(api.EventRead)
	assert.True(t, u.IsPaused(api.PauseRecv))
	assert.Empty(t, r.body)
	w.Fire(api.EventRead)
	assert.Empty(t, r.body, "paused transfer ignores readiness")

	h.timer().Cancel()
	require.NoError(t, u.Unpause(api.PauseRecv))
	assert.False(t, u.IsPaused(api.PauseRecv))
	require.True(t, h.timer().Fire(), "unpause asks for a prompt timeout")
	assert.Equal(t, "1", string(r.body))

	w.Fire(api.EventRead)
	assert.Equal(t, "12", string(r.body))
	assert.Equal(t, 1, r.calls)
}

func TestSessionOptions(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.MaxTotalConnections = 8
		c.MaxHostConnections = 2
	})
	v, ok := h.multi().Option(api.MultiOptMaxTotalConnections)
	require.True(t, ok)
	assert.Equal(t, int64(8), v.Int())
	_, ok = h.multi().Option(api.MultiOptMaxConnects)
	assert.False(t, ok, "zero limits are not applied")

	require.NoError(t, h.session.SetPipelining(api.PipeMultiplex))
	assert.ErrorIs(t, h.session.SetPipelining(7), ErrBadParam)
	assert.ErrorIs(t, h.session.SetOption(api.MultiOptMaxConnects, api.String("x")), ErrBadParam)

	h.multi().UnknownOptions[api.MultiOptMaxPipelineLength] = true
	err := h.session.SetMaxPipelineLength(3)
	assert.ErrorIs(t, err, ErrBadParam)
	assert.ErrorIs(t, err, api.MultiUnknownOption)
}

func TestNewSessionFailures(t *testing.T) {
	e := fake.NewEngine()
	r := fake.NewReactor()

	_, err := NewSession(nil, r, nil)
	assert.ErrorIs(t, err, ErrBadParam)

	e.FailNewMulti = errors.New("no multi")
	_, err = NewSession(e, r, nil)
	assert.ErrorIs(t, err, e.FailNewMulti)
}

func TestSessionMetricsAndProbes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := control.NewMetrics(reg)
	require.NoError(t, err)
	probes := control.NewDebugProbes()
	h := newHarness(t, func(c *Config) {
		c.Metrics = m
		c.Probes = probes
	})
	h.engine.Handle("http://a/", fake.Route{Immediate: true})
	u, _ := h.unit(t, "http://a/")

	assert.Equal(t, []string{"xfer.session.test"}, probes.Names())
	snap, ok := probes.DumpState()["xfer.session.test"].(SessionSnapshot)
	require.True(t, ok)
	assert.Equal(t, "test", snap.Name)

	require.NoError(t, h.session.Add(u))
	h.session.Stop()

	expected := `
# HELP xfer_transfers_completed_total Transfers finished by the engine, by result.
# TYPE xfer_transfers_completed_total counter
xfer_transfers_completed_total{result="ok",session="test"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "xfer_transfers_completed_total"))
	assert.Empty(t, probes.Names())
}
