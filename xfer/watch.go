// File: xfer/watch.go
// Author: momentics <momentics@gmail.com>
//
// Reactor registrations owned by a Session: one watch per engine socket and
// the single session timer.

package xfer

import (
	"time"

	"github.com/momentics/hioload-xfer/api"
)

// socketWatch binds one engine socket to a reactor IO watch. Its lifetime
// follows the engine's socket interest, never a unit's.
type socketWatch struct {
	fd   api.Socket
	io   api.IOWatch
	what api.PollInterest
}

func newSocketWatch(r api.Reactor, fd api.Socket, fn func(*socketWatch, api.EventMask)) *socketWatch {
	w := &socketWatch{fd: fd, io: r.NewIO(uintptr(fd)), what: api.PollNone}
	w.io.OnEvent(func(ev api.EventMask) { fn(w, ev) })
	return w
}

func (w *socketWatch) request(what api.PollInterest) error {
	w.what = what
	return w.io.SetRequestedEvents(interestEvents(what))
}

func (w *socketWatch) setFd(fd api.Socket) error {
	w.fd = fd
	return w.io.SetFd(uintptr(fd))
}

func (w *socketWatch) close() error { return w.io.Close() }

func interestEvents(what api.PollInterest) api.EventMask {
	switch what {
	case api.PollIn:
		return api.EventRead
	case api.PollOut:
		return api.EventWrite
	case api.PollInOut:
		return api.EventRead | api.EventWrite
	default:
		return 0
	}
}

func readyMask(ev api.EventMask) api.ReadyMask {
	var m api.ReadyMask
	if ev&api.EventRead != 0 {
		m |= api.ReadyIn
	}
	if ev&api.EventWrite != 0 {
		m |= api.ReadyOut
	}
	if ev&api.EventError != 0 {
		m |= api.ReadyErr
	}
	return m
}

// timerWatch is the session's only reactor timer.
type timerWatch struct {
	t     api.Timer
	after time.Duration
}

func newTimerWatch(r api.Reactor, fn func()) *timerWatch {
	t := r.NewTimer()
	t.OnTimeout(fn)
	return &timerWatch{t: t}
}

func (w *timerWatch) arm(d time.Duration) {
	w.after = d
	w.t.Set(d)
}

func (w *timerWatch) cancel() { w.t.Cancel() }

func (w *timerWatch) armed() bool { return w.t.Armed() }
