// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral part of the event loop: watch bookkeeping, timers and
// callback dispatch. The platform poller lives in epoll_reactor.go.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xfer/api"
)

// ErrClosed is returned when a closed loop or watch is used.
var ErrClosed = errors.New("reactor: closed")

// readyEvent is one descriptor reported by the poller.
type readyEvent struct {
	fd int
	ev api.EventMask
}

// poller is the OS readiness backend.
type poller interface {
	add(fd int, ev api.EventMask) error
	mod(fd int, ev api.EventMask) error
	del(fd int) error
	// wait blocks up to timeout (negative: forever) and fills events.
	wait(events []readyEvent, timeout time.Duration) (int, error)
	wake() error
	close() error
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock used for timer deadlines.
func WithClock(c clock.Clock) Option { return func(l *Loop) { l.clock = c } }

// WithLogger sets the logger for callback panics and poller errors.
func WithLogger(log *zap.Logger) Option { return func(l *Loop) { l.log = log } }

// WithMaxEvents bounds the readiness events handled per iteration.
func WithMaxEvents(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.events = make([]readyEvent, n)
		}
	}
}

// Loop is an event loop. Everything except Stop must be called from the
// goroutine running the loop.
type Loop struct {
	p       poller
	clock   clock.Clock
	log     *zap.Logger
	watches map[int]*ioWatch
	timers  timerHeap
	events  []readyEvent
	stop    atomic.Bool
	closed  bool
}

// New creates a loop on the platform poller.
func New(opts ...Option) (*Loop, error) {
	l := &Loop{
		clock:   clock.New(),
		log:     zap.NewNop(),
		watches: make(map[int]*ioWatch),
		events:  make([]readyEvent, 128),
	}
	for _, opt := range opts {
		opt(l)
	}
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	l.p = p
	return l, nil
}

// NewIO implements api.Reactor.
func (l *Loop) NewIO(fd uintptr) api.IOWatch {
	return &ioWatch{l: l, fd: fd}
}

// NewTimer implements api.Reactor.
func (l *Loop) NewTimer() api.Timer {
	return &timer{l: l, index: -1}
}

// Len returns the number of descriptors currently registered with the poller.
func (l *Loop) Len() int { return len(l.watches) }

// Pending returns the number of armed timers.
func (l *Loop) Pending() int { return len(l.timers) }

// RunOnce waits for readiness up to maxWait (negative: until the next timer
// or forever), dispatches IO callbacks and then fires expired timers.
func (l *Loop) RunOnce(maxWait time.Duration) error {
	if l.closed {
		return ErrClosed
	}
	timeout := maxWait
	if len(l.timers) > 0 {
		d := l.timers[0].deadline.Sub(l.clock.Now())
		if d < 0 {
			d = 0
		}
		if timeout < 0 || d < timeout {
			timeout = d
		}
	}
	n, err := l.p.wait(l.events, timeout)
	if err != nil {
		return fmt.Errorf("reactor: wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := l.events[i]
		w, ok := l.watches[ev.fd]
		if !ok || w.fn == nil {
			continue
		}
		mask := ev.ev & (w.events | api.EventError)
		if mask == 0 {
			continue
		}
		l.safely("io", func() { w.fn(mask) })
	}
	l.fireTimers()
	return nil
}

// Run loops until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.stop.Store(false)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-done:
		}
	}()
	for !l.stop.Load() {
		if err := l.RunOnce(-1); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Stop makes Run return after the current iteration. Safe from any goroutine.
func (l *Loop) Stop() {
	l.stop.Store(true)
	if err := l.p.wake(); err != nil {
		l.log.Warn("reactor wake failed", zap.Error(err))
	}
}

// Close unregisters everything and releases the poller.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	for fd, w := range l.watches {
		err = multierr.Append(err, ignoreGone(l.p.del(fd)))
		w.registered = false
		delete(l.watches, fd)
	}
	for len(l.timers) > 0 {
		l.timers.pop()
	}
	return multierr.Append(err, l.p.close())
}

func (l *Loop) fireTimers() {
	now := l.clock.Now()
	type due struct {
		t   *timer
		seq uint64
	}
	var expired []due
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		t := l.timers.pop()
		t.index = -1
		expired = append(expired, due{t, t.seq})
	}
	for _, d := range expired {
		// skip timers re-armed or cancelled by an earlier callback
		if d.t.seq != d.seq || d.t.fn == nil {
			continue
		}
		l.safely("timer", d.t.fn)
	}
}

func (l *Loop) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("reactor callback panicked", zap.String("kind", kind), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// ioWatch implements api.IOWatch.
type ioWatch struct {
	l          *Loop
	fd         uintptr
	events     api.EventMask
	registered bool
	closed     bool
	fn         func(api.EventMask)
}

func (w *ioWatch) Fd() uintptr { return w.fd }

func (w *ioWatch) RequestedEvents() api.EventMask { return w.events }

func (w *ioWatch) OnEvent(fn func(api.EventMask)) { w.fn = fn }

func (w *ioWatch) SetRequestedEvents(ev api.EventMask) error {
	if w.closed || w.l.closed {
		return ErrClosed
	}
	ev &= api.EventRead | api.EventWrite
	switch {
	case ev == 0 && w.registered:
		err := ignoreGone(w.l.p.del(int(w.fd)))
		w.unregister()
		w.events = 0
		return err
	case ev == 0:
		w.events = 0
		return nil
	case w.registered:
		if ev == w.events {
			return nil
		}
		if err := w.l.p.mod(int(w.fd), ev); err != nil {
			return fmt.Errorf("reactor: modify fd %d: %w", w.fd, err)
		}
	default:
		if err := w.register(ev); err != nil {
			return err
		}
	}
	w.events = ev
	return nil
}

func (w *ioWatch) SetFd(fd uintptr) error {
	if w.closed || w.l.closed {
		return ErrClosed
	}
	if fd == w.fd {
		return nil
	}
	var err error
	if w.registered {
		err = ignoreGone(w.l.p.del(int(w.fd)))
		w.unregister()
	}
	w.fd = fd
	if w.events != 0 {
		err = multierr.Append(err, w.register(w.events))
	}
	return err
}

func (w *ioWatch) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.registered || w.l.closed {
		return nil
	}
	err := ignoreGone(w.l.p.del(int(w.fd)))
	w.unregister()
	return err
}

func (w *ioWatch) register(ev api.EventMask) error {
	if other, ok := w.l.watches[int(w.fd)]; ok && other != w {
		return fmt.Errorf("reactor: fd %d already watched", w.fd)
	}
	if err := w.l.p.add(int(w.fd), ev); err != nil {
		return fmt.Errorf("reactor: add fd %d: %w", w.fd, err)
	}
	w.registered = true
	w.l.watches[int(w.fd)] = w
	return nil
}

func (w *ioWatch) unregister() {
	w.registered = false
	if w.l.watches[int(w.fd)] == w {
		delete(w.l.watches, int(w.fd))
	}
}
