//go:build linux

package reactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-xfer/api"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newLoop(t *testing.T, opts ...Option) *Loop {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestReadReadiness(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)

	var got []api.EventMask
	watch := l.NewIO(uintptr(r))
	watch.OnEvent(func(ev api.EventMask) { got = append(got, ev) })

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, l.RunOnce(0))
	assert.Empty(t, got, "idle watch is not registered")

	require.NoError(t, watch.SetRequestedEvents(api.EventRead))
	assert.Equal(t, 1, l.Len())
	require.NoError(t, l.RunOnce(time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, api.EventRead, got[0])

	// level triggered: still readable
	require.NoError(t, l.RunOnce(time.Second))
	assert.Len(t, got, 2)

	require.NoError(t, watch.SetRequestedEvents(0))
	assert.Equal(t, 0, l.Len())
	require.NoError(t, l.RunOnce(0))
	assert.Len(t, got, 2)
}

func TestWriteReadinessAndModify(t *testing.T) {
	l := newLoop(t)
	_, w := newPipe(t)

	var got api.EventMask
	watch := l.NewIO(uintptr(w))
	watch.OnEvent(func(ev api.EventMask) { got |= ev })
	require.NoError(t, watch.SetRequestedEvents(api.EventRead))
	require.NoError(t, l.RunOnce(0))
	assert.Zero(t, got)

	require.NoError(t, watch.SetRequestedEvents(api.EventRead|api.EventWrite))
	assert.Equal(t, api.EventRead|api.EventWrite, watch.RequestedEvents())
	require.NoError(t, l.RunOnce(time.Second))
	assert.Equal(t, api.EventWrite, got&api.EventWrite)
}

func TestSetFdMovesRegistration(t *testing.T) {
	l := newLoop(t)
	r1, _ := newPipe(t)
	r2, w2 := newPipe(t)

	fired := 0
	watch := l.NewIO(uintptr(r1))
	watch.OnEvent(func(api.EventMask) { fired++ })
	require.NoError(t, watch.SetRequestedEvents(api.EventRead))
	require.NoError(t, watch.SetFd(uintptr(r2)))
	assert.Equal(t, uintptr(r2), watch.Fd())
	assert.Equal(t, 1, l.Len())

	_, err := unix.Write(w2, []byte("y"))
	require.NoError(t, err)
	require.NoError(t, l.RunOnce(time.Second))
	assert.Equal(t, 1, fired)
}

func TestDuplicateWatchRejected(t *testing.T) {
	l := newLoop(t)
	r, _ := newPipe(t)
	a := l.NewIO(uintptr(r))
	b := l.NewIO(uintptr(r))
	require.NoError(t, a.SetRequestedEvents(api.EventRead))
	assert.Error(t, b.SetRequestedEvents(api.EventRead))
}

func TestCloseAfterDescriptorClosed(t *testing.T) {
	l := newLoop(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[1])

	watch := l.NewIO(uintptr(fds[0]))
	require.NoError(t, watch.SetRequestedEvents(api.EventRead))
	require.NoError(t, unix.Close(fds[0]))
	assert.NoError(t, watch.Close())
	assert.NoError(t, watch.Close())
	assert.ErrorIs(t, watch.SetRequestedEvents(api.EventRead), ErrClosed)
	assert.Equal(t, 0, l.Len())
}

func TestTimersFollowClock(t *testing.T) {
	mock := clock.NewMock()
	l := newLoop(t, WithClock(mock))

	var order []string
	a := l.NewTimer()
	a.OnTimeout(func() { order = append(order, "a") })
	b := l.NewTimer()
	b.OnTimeout(func() { order = append(order, "b") })

	a.Set(50 * time.Millisecond)
	b.Set(20 * time.Millisecond)
	assert.True(t, a.Armed())
	assert.Equal(t, 2, l.Pending())

	require.NoError(t, l.RunOnce(0))
	assert.Empty(t, order)

	mock.Add(20 * time.Millisecond)
	require.NoError(t, l.RunOnce(0))
	assert.Equal(t, []string{"b"}, order)
	assert.False(t, b.Armed())

	a.Set(10 * time.Millisecond)
	mock.Add(10 * time.Millisecond)
	require.NoError(t, l.RunOnce(0))
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, 0, l.Pending())
}

func TestTimerCancelledByEarlierCallback(t *testing.T) {
	mock := clock.NewMock()
	l := newLoop(t, WithClock(mock))

	fired := map[string]int{}
	a := l.NewTimer()
	b := l.NewTimer()
	a.OnTimeout(func() {
		fired["a"]++
		b.Cancel()
		a.Set(0)
	})
	b.OnTimeout(func() { fired["b"]++ })
	a.Set(time.Millisecond)
	b.Set(2 * time.Millisecond)

	mock.Add(5 * time.Millisecond)
	require.NoError(t, l.RunOnce(0))
	assert.Equal(t, map[string]int{"a": 1}, fired, "re-armed timer waits for the next iteration")
	assert.True(t, a.Armed())

	require.NoError(t, l.RunOnce(0))
	assert.Equal(t, 2, fired["a"])
}

func TestCallbackPanicIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	mock := clock.NewMock()
	l := newLoop(t, WithClock(mock), WithLogger(zap.New(core)))

	bad := l.NewTimer()
	bad.OnTimeout(func() { panic("boom") })
	ok := false
	good := l.NewTimer()
	good.OnTimeout(func() { ok = true })
	bad.Set(0)
	good.Set(0)

	require.NoError(t, l.RunOnce(0))
	assert.True(t, ok)
	entries := logs.FilterMessage("reactor callback panicked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "timer", entries[0].ContextMap()["kind"])
}

func TestRunStopsOnContext(t *testing.T) {
	l := newLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestStopFromCallback(t *testing.T) {
	l := newLoop(t)
	tm := l.NewTimer()
	tm.OnTimeout(l.Stop)
	tm.Set(time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestClosedLoop(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	tm := l.NewTimer()
	tm.Set(time.Hour)
	require.NoError(t, l.Close())
	assert.False(t, tm.Armed())
	assert.ErrorIs(t, l.RunOnce(0), ErrClosed)
	assert.NoError(t, l.Close())
}
