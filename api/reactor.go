// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the event reactor a Session is bound to:
// per-descriptor readiness watches and one-shot timers, all dispatched from a
// single goroutine.

package api

import "time"

// EventMask is a set of readiness events on a descriptor.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventError
)

// Reactor builds watches and timers bound to one event loop. The reactor must
// outlive everything built on it and must only be used from its own goroutine.
type Reactor interface {
	// NewIO creates an idle watch for fd; nothing is monitored until
	// SetRequestedEvents asks for events.
	NewIO(fd uintptr) IOWatch

	// NewTimer creates a disarmed one-shot timer.
	NewTimer() Timer
}

// IOWatch is a reactor registration for one descriptor.
type IOWatch interface {
	Fd() uintptr

	// SetFd moves the watch to another descriptor, keeping requested events.
	SetFd(fd uintptr) error

	// SetRequestedEvents replaces the monitored events; zero suspends the watch.
	SetRequestedEvents(ev EventMask) error
	RequestedEvents() EventMask

	// OnEvent installs the readiness callback.
	OnEvent(fn func(ev EventMask))

	// Close unregisters the watch; it never fires afterwards.
	Close() error
}

// Timer is a one-shot reactor timer.
type Timer interface {
	// Set arms the timer to fire after d, replacing any pending deadline.
	Set(d time.Duration)
	Cancel()
	Armed() bool
	OnTimeout(fn func())
}
