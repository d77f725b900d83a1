// File: xfer/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Session bridges an engine multiplexer to a reactor. The engine asks for
// socket watches and a timer through its callbacks; reactor events are fed
// back through SocketAction and finished transfers are handed to their units.

package xfer

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/control"
)

// stopped is the terminal value of Session.running.
const stopped = -1

// ErrorFunc receives the engine error that stopped a session.
type ErrorFunc func(err error)

// Session multiplexes units over one engine multiplexer and one reactor.
// All methods, and every callback it invokes, run on the reactor goroutine.
//
// Units must not stop the session from their data callbacks (write, read,
// header, progress, debug); done callbacks may do anything.
type Session struct {
	name    string
	multi   api.Multi
	reactor api.Reactor
	log     *zap.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes

	units   map[api.Transfer]*Unit
	watches map[api.Socket]*socketWatch
	timer   *timerWatch
	running int

	onError  ErrorFunc
	closeErr error
}

// NewSession creates a session on engine and reactor. The reactor must
// outlive the session.
func NewSession(engine api.Engine, reactor api.Reactor, cfg *Config) (*Session, error) {
	if engine == nil || reactor == nil {
		return nil, fmt.Errorf("%w: nil engine or reactor", ErrBadParam)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	multi, err := engine.NewMulti()
	if err != nil {
		return nil, fmt.Errorf("xfer: create multiplexer: %w", err)
	}

	s := &Session{
		name:    cfg.Name,
		multi:   multi,
		reactor: reactor,
		log:     log.With(zap.String("session", cfg.Name)),
		metrics: cfg.Metrics,
		probes:  cfg.Probes,
		units:   make(map[api.Transfer]*Unit),
		watches: make(map[api.Socket]*socketWatch),
	}
	s.timer = newTimerWatch(reactor, s.onTimeout)

	if err := multi.SetTimerFunc(s.timerFunc); err != nil {
		_ = multi.Close()
		return nil, fmt.Errorf("xfer: install timer function: %w", err)
	}
	if err := multi.SetSocketFunc(s.socketFunc); err != nil {
		_ = multi.Close()
		return nil, fmt.Errorf("xfer: install socket function: %w", err)
	}

	limits := []struct {
		opt api.MultiOption
		n   int64
	}{
		{api.MultiOptMaxTotalConnections, cfg.MaxTotalConnections},
		{api.MultiOptMaxHostConnections, cfg.MaxHostConnections},
		{api.MultiOptMaxConnects, cfg.MaxConnects},
		{api.MultiOptMaxConcurrentStreams, cfg.MaxConcurrentStreams},
	}
	for _, l := range limits {
		if l.n <= 0 {
			continue
		}
		if err := s.SetOption(l.opt, api.Long(l.n)); err != nil {
			_ = multi.Close()
			return nil, err
		}
	}

	if s.probes != nil {
		s.probes.RegisterProbe(s.probeName(), func() any { return s.Snapshot() })
	}
	return s, nil
}

// OnError sets the callback invoked once when an engine error stops the session.
func (s *Session) OnError(fn ErrorFunc) { s.onError = fn }

// Name returns the session label.
func (s *Session) Name() string { return s.name }

// Len returns the number of units currently owned.
func (s *Session) Len() int { return len(s.units) }

// Running returns the engine's running-transfer count, or -1 once stopped.
func (s *Session) Running() int { return s.running }

// Stopped reports whether the session reached its terminal state.
func (s *Session) Stopped() bool { return s.running == stopped }

// Watches returns the number of live socket watches.
func (s *Session) Watches() int { return len(s.watches) }

// Add hands u to the session. The first unit added to an idle session kicks
// the engine immediately, so a transfer that completes synchronously has its
// done callback invoked before Add returns.
func (s *Session) Add(u *Unit) error {
	if s.running == stopped {
		return errStopped
	}
	if u.owner == s {
		return ErrAlreadyOwned
	}
	if u.owner != nil {
		return ErrOwnedElsewhere
	}
	if u.xfer == nil {
		return ErrBadHandle
	}
	if err := s.multi.Add(u.xfer); err != nil {
		return engineErr("add transfer", err)
	}
	u.owner = s
	s.units[u.xfer] = u
	s.metrics.TransferAdded(s.name)
	s.log.Debug("transfer added", zap.String("unit", u.id), zap.Int("pool", len(s.units)))

	if s.running == 0 {
		if err := s.action(api.SocketTimeout, 0); err != nil {
			return fmt.Errorf("%w: %w", errStopped, err)
		}
	}
	return nil
}

// Remove takes u back from the session. Socket watches are left alone: they
// belong to the engine's sockets, which may be shared or cached.
func (s *Session) Remove(u *Unit) error {
	if u.owner == nil {
		return ErrAlreadyRemoved
	}
	if u.owner != s {
		return ErrOwnedElsewhere
	}
	if err := s.multi.Remove(u.xfer); err != nil {
		return engineErr("remove transfer", err)
	}
	s.detach(u)
	s.log.Debug("transfer removed", zap.String("unit", u.id), zap.Int("pool", len(s.units)))
	return nil
}

func (s *Session) detach(u *Unit) {
	u.owner = nil
	delete(s.units, u.xfer)
	// nothing left in the multiplexer: let the next Add bootstrap again
	if len(s.units) == 0 && s.running > 0 {
		s.running = 0
	}
}

// Stop force-completes every owned unit with ErrSessionStopped and releases
// the multiplexer. Stopping twice is a no-op.
func (s *Session) Stop() { s.stop(nil) }

// Close stops the session and reports release failures.
func (s *Session) Close() error {
	s.stop(nil)
	return s.closeErr
}

func (s *Session) stop(cause error) {
	if s.running == stopped {
		return
	}
	s.running = stopped
	if cause != nil {
		s.log.Warn("session stopped by engine error", zap.Error(cause), zap.Int("pool", len(s.units)))
	} else {
		s.log.Debug("session stopped", zap.Int("pool", len(s.units)))
	}

	units := s.units
	s.units = make(map[api.Transfer]*Unit)
	for _, u := range units {
		u.owner = nil
		u.complete(ErrSessionStopped)
	}

	s.timer.cancel()
	err := s.multi.Close()
	for fd, w := range s.watches {
		err = multierr.Append(err, w.close())
		delete(s.watches, fd)
	}
	s.closeErr = err

	reason := "closed"
	if cause != nil {
		reason = "error"
	}
	s.metrics.SessionStopped(s.name, reason)
	s.metrics.SetRunning(s.name, 0)
	s.metrics.SetWatchedSockets(s.name, 0)
	if s.probes != nil {
		s.probes.UnregisterProbe(s.probeName())
	}

	if cause != nil && s.onError != nil {
		s.onError(cause)
	}
}

// action drives the multiplexer and dispatches whatever finished. An engine
// error stops the session and is returned.
func (s *Session) action(sock api.Socket, ready api.ReadyMask) error {
	running, err := s.multi.SocketAction(sock, ready)
	if err != nil {
		s.stop(err)
		return err
	}
	if s.running == stopped {
		return nil
	}
	s.running = running
	s.metrics.SetRunning(s.name, running)
	s.drain()
	return nil
}

// drain dispatches every queued completion. The unit is detached before its
// done callback runs, so the callback may add it again right away.
func (s *Session) drain() {
	for s.running != stopped {
		msg, ok := s.multi.InfoRead()
		if !ok {
			return
		}
		if msg.Kind != api.MessageDone {
			continue
		}
		u, ok := s.units[msg.Transfer]
		if !ok {
			s.log.Debug("completion for unknown transfer")
			continue
		}
		if err := s.Remove(u); err != nil {
			s.log.Warn("detach finished transfer failed", zap.String("unit", u.id), zap.Error(err))
			s.detach(u)
		}
		s.metrics.TransferCompleted(s.name, resultLabel(msg.Result))
		s.log.Debug("transfer done", zap.String("unit", u.id), zap.Int("code", int(msg.Result)))
		u.complete(msg.Result.Err())
	}
}

func resultLabel(code api.ResultCode) string {
	if code == api.ResultOK {
		return "ok"
	}
	return code.String()
}

func (s *Session) onSocketEvent(w *socketWatch, ev api.EventMask) {
	if s.running == stopped {
		return
	}
	_ = s.action(w.fd, readyMask(ev))
}

func (s *Session) onTimeout() {
	if s.running == stopped {
		return
	}
	_ = s.action(api.SocketTimeout, 0)
}

// socketFunc is the engine's socket interest callback.
func (s *Session) socketFunc(_ api.Transfer, sock api.Socket, what api.PollInterest, data any) {
	w, _ := data.(*socketWatch)
	if w == nil {
		w = s.watches[sock]
	}
	if what == api.PollRemove {
		if w != nil {
			s.dropWatch(w)
		}
		return
	}
	if s.running == stopped {
		return
	}

	if w == nil {
		w = newSocketWatch(s.reactor, sock, s.onSocketEvent)
		s.watches[sock] = w
		if err := s.multi.Assign(sock, w); err != nil {
			s.log.Warn("assign socket watch failed", zap.Uint64("socket", uint64(sock)), zap.Error(err))
		}
		s.log.Debug("socket watch created", zap.Uint64("socket", uint64(sock)))
	}
	if w.fd != sock {
		// the engine moved this socket to another descriptor
		if s.watches[w.fd] == w {
			delete(s.watches, w.fd)
		}
		if old, ok := s.watches[sock]; ok && old != w {
			_ = old.close()
		}
		s.watches[sock] = w
		if err := w.setFd(sock); err != nil {
			s.log.Warn("move socket watch failed", zap.Uint64("socket", uint64(sock)), zap.Error(err))
		}
	}
	if err := w.request(what); err != nil {
		s.log.Warn("request socket events failed",
			zap.Uint64("socket", uint64(sock)), zap.Stringer("interest", what), zap.Error(err))
	}
	s.metrics.SetWatchedSockets(s.name, len(s.watches))
}

func (s *Session) dropWatch(w *socketWatch) {
	if s.watches[w.fd] == w {
		delete(s.watches, w.fd)
	}
	if err := w.close(); err != nil {
		s.log.Debug("close socket watch", zap.Uint64("socket", uint64(w.fd)), zap.Error(err))
	}
	if s.running != stopped {
		if err := s.multi.Assign(w.fd, nil); err != nil {
			s.log.Debug("unassign socket watch", zap.Uint64("socket", uint64(w.fd)), zap.Error(err))
		}
		s.metrics.SetWatchedSockets(s.name, len(s.watches))
	}
	s.log.Debug("socket watch dropped", zap.Uint64("socket", uint64(w.fd)))
}

// timerFunc is the engine's timer callback.
func (s *Session) timerFunc(ms int64) {
	if ms < 0 {
		s.timer.cancel()
		return
	}
	if s.running == stopped {
		return
	}
	s.timer.arm(time.Duration(ms) * time.Millisecond)
}

// SessionSnapshot is a point-in-time view of a session for debugging.
type SessionSnapshot struct {
	Name       string
	Units      int
	Running    int
	Watches    int
	TimerArmed bool
	Stopped    bool
}

// Snapshot describes the session's current state.
func (s *Session) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		Name:       s.name,
		Units:      len(s.units),
		Running:    s.running,
		Watches:    len(s.watches),
		TimerArmed: s.timer.armed(),
		Stopped:    s.running == stopped,
	}
}

func (s *Session) probeName() string { return "xfer.session." + s.name }
