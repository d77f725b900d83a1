// File: fake/reactor.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: Apache-2.0
//
// Manually driven reactor: tests fire IO readiness and timers explicitly.

package fake

import (
	"errors"
	"time"

	"github.com/momentics/hioload-xfer/api"
)

// ErrWatchClosed is returned when a closed watch is used.
var ErrWatchClosed = errors.New("fake: watch closed")

// Reactor is a fake api.Reactor.
type Reactor struct {
	ios    []*IO
	timers []*Timer
}

func NewReactor() *Reactor { return &Reactor{} }

func (r *Reactor) NewIO(fd uintptr) api.IOWatch {
	w := &IO{fd: fd}
	r.ios = append(r.ios, w)
	return w
}

func (r *Reactor) NewTimer() api.Timer {
	t := &Timer{}
	r.timers = append(r.timers, t)
	return t
}

// LiveWatches counts watches that were created and not closed.
func (r *Reactor) LiveWatches() int {
	n := 0
	for _, w := range r.ios {
		if !w.closed {
			n++
		}
	}
	return n
}

// Watch returns the live watch on fd, or nil.
func (r *Reactor) Watch(fd api.Socket) *IO {
	for _, w := range r.ios {
		if !w.closed && w.fd == uintptr(fd) {
			return w
		}
	}
	return nil
}

// Timer returns the i-th timer created on the reactor.
func (r *Reactor) Timer(i int) *Timer {
	if i < 0 || i >= len(r.timers) {
		return nil
	}
	return r.timers[i]
}

// IO is a fake api.IOWatch.
type IO struct {
	fd     uintptr
	events api.EventMask
	fn     func(api.EventMask)
	closed bool
	moves  int

	// FailSetFd is returned by SetFd when set.
	FailSetFd error
}

func (w *IO) Fd() uintptr { return w.fd }

func (w *IO) SetFd(fd uintptr) error {
	if w.closed {
		return ErrWatchClosed
	}
	if w.FailSetFd != nil {
		return w.FailSetFd
	}
	w.fd = fd
	w.moves++
	return nil
}

func (w *IO) SetRequestedEvents(ev api.EventMask) error {
	if w.closed {
		return ErrWatchClosed
	}
	w.events = ev
	return nil
}

func (w *IO) RequestedEvents() api.EventMask { return w.events }

func (w *IO) OnEvent(fn func(api.EventMask)) { w.fn = fn }

func (w *IO) Close() error {
	if w.closed {
		return ErrWatchClosed
	}
	w.closed = true
	return nil
}

// Closed reports whether the watch was closed.
func (w *IO) Closed() bool { return w.closed }

// Moves counts successful SetFd calls.
func (w *IO) Moves() int { return w.moves }

// Fire delivers ev to the watch callback, masked by the requested events
// (errors always pass). Closed watches ignore it.
func (w *IO) Fire(ev api.EventMask) {
	if w.closed || w.fn == nil {
		return
	}
	ev &= w.events | api.EventError
	if ev == 0 {
		return
	}
	w.fn(ev)
}

// Timer is a fake api.Timer.
type Timer struct {
	after time.Duration
	armed bool
	sets  int
	fn    func()
}

func (t *Timer) Set(d time.Duration) {
	t.after = d
	t.armed = true
	t.sets++
}

func (t *Timer) Cancel() { t.armed = false }

func (t *Timer) Armed() bool { return t.armed }

func (t *Timer) OnTimeout(fn func()) { t.fn = fn }

// After returns the last requested delay.
func (t *Timer) After() time.Duration { return t.after }

// Sets counts Set calls.
func (t *Timer) Sets() int { return t.sets }

// Fire runs the callback if the timer is armed, disarming it first.
func (t *Timer) Fire() bool {
	if !t.armed {
		return false
	}
	t.armed = false
	if t.fn != nil {
		t.fn()
	}
	return true
}
