// File: engine/multi.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multi runs many transfers on caller-provided readiness. It reports the
// sockets it needs watched through the socket function and the timeout it
// needs through the timer function, and queues completions for InfoRead.

package engine

import (
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xfer/api"
)

var knownMultiOptions = map[api.MultiOption]bool{
	api.MultiOptPipelining:           true,
	api.MultiOptMaxConnects:          true,
	api.MultiOptMaxHostConnections:   true,
	api.MultiOptMaxPipelineLength:    true,
	api.MultiOptMaxTotalConnections:  true,
	api.MultiOptMaxConcurrentStreams: true,
}

type completion struct {
	t   *Transfer
	gen int
	res api.ResultCode
}

// Multi implements api.Multi.
type Multi struct {
	e        *Engine
	log      *zap.Logger
	socketFn api.SocketFunc
	timerFn  api.TimerFunc
	opts     map[api.MultiOption]api.Value

	xfers    []*Transfer
	pending  []*Transfer
	socks    map[api.Socket]*exchange
	assigned map[api.Socket]any
	msgs     *queue.Queue

	kick     bool      // an unpaused transfer wants an immediate timeout
	timerSet bool      // the timer function holds a deadline
	timerAt  time.Time // that deadline
	closed   bool
}

func newMulti(e *Engine) *Multi {
	return &Multi{
		e:        e,
		log:      e.log,
		opts:     make(map[api.MultiOption]api.Value),
		socks:    make(map[api.Socket]*exchange),
		assigned: make(map[api.Socket]any),
		msgs:     queue.New(),
	}
}

func (m *Multi) SetSocketFunc(fn api.SocketFunc) error { m.socketFn = fn; return nil }

func (m *Multi) SetTimerFunc(fn api.TimerFunc) error { m.timerFn = fn; return nil }

func (m *Multi) SetOption(opt api.MultiOption, v api.Value) error {
	if !knownMultiOptions[opt] {
		return api.MultiUnknownOption
	}
	if !opt.Class().Accepts(v.Kind()) {
		return api.MultiUnknownOption
	}
	m.opts[opt] = v
	return nil
}

func (m *Multi) Add(at api.Transfer) error {
	if m.closed {
		return api.MultiBadHandle
	}
	t, ok := at.(*Transfer)
	if !ok || t.closed {
		return api.MultiBadEasyHandle
	}
	if t.multi != nil {
		return api.MultiAddedAlready
	}
	t.multi = m
	t.gen++
	m.xfers = append(m.xfers, t)
	m.pending = append(m.pending, t)
	m.updateTimer()
	return nil
}

func (m *Multi) Remove(at api.Transfer) error {
	if m.closed {
		return api.MultiBadHandle
	}
	t, ok := at.(*Transfer)
	if !ok {
		return api.MultiBadEasyHandle
	}
	if t.multi != m {
		// not attached here: nothing to do
		return nil
	}
	if t.ex != nil {
		m.teardown(t.ex)
		t.ex = nil
	}
	m.xfers = without(m.xfers, t)
	m.pending = without(m.pending, t)
	t.multi = nil
	m.updateTimer()
	return nil
}

func (m *Multi) Assign(s api.Socket, data any) error {
	if _, ok := m.socks[s]; !ok {
		return api.MultiBadSocket
	}
	m.assigned[s] = data
	return nil
}

// SocketAction processes readiness on s, or timeouts and deferred work when
// s is api.SocketTimeout, and returns the number of running transfers.
func (m *Multi) SocketAction(s api.Socket, ready api.ReadyMask) (int, error) {
	if m.closed {
		return 0, api.MultiBadHandle
	}
	if s == api.SocketTimeout {
		m.timerSet = false
		m.kick = false
		m.startPending()
		m.checkTimeouts()
		m.resumeUnpaused()
	} else {
		ex, ok := m.socks[s]
		if !ok {
			return m.running(), api.MultiBadSocket
		}
		ex.step(ready)
	}
	m.updateTimer()
	return m.running(), nil
}

func (m *Multi) InfoRead() (api.Message, bool) {
	for m.msgs.Length() > 0 {
		c := m.msgs.Remove().(completion)
		if c.t.multi != m || c.t.gen != c.gen {
			continue
		}
		return api.Message{Kind: api.MessageDone, Transfer: c.t, Result: c.res}, true
	}
	return api.Message{}, false
}

// Close tears down every connection, announcing each socket removal.
func (m *Multi) Close() error {
	if m.closed {
		return nil
	}
	for _, t := range m.xfers {
		if t.ex != nil {
			m.teardown(t.ex)
			t.ex = nil
		}
		t.multi = nil
	}
	m.xfers, m.pending = nil, nil
	m.closed = true
	return nil
}

func (m *Multi) running() int {
	n := len(m.pending)
	for _, t := range m.xfers {
		if t.ex != nil && t.ex.phase != phaseDone {
			n++
		}
	}
	return n
}

func (m *Multi) limit(opt api.MultiOption) int64 {
	v, ok := m.opts[opt]
	if !ok {
		return 0
	}
	return v.Int()
}

func (m *Multi) startPending() {
	total := m.limit(api.MultiOptMaxTotalConnections)
	perHost := m.limit(api.MultiOptMaxHostConnections)
	var waiting []*Transfer
	for _, t := range m.pending {
		if total > 0 && int64(len(m.socks)) >= total {
			waiting = append(waiting, t)
			continue
		}
		if perHost > 0 && m.hostConns(t) >= perHost {
			waiting = append(waiting, t)
			continue
		}
		ex := newExchange(m, t)
		t.ex = ex
		ex.begin(t.str(api.OptURL))
	}
	m.pending = waiting
}

func (m *Multi) hostConns(t *Transfer) int64 {
	host := hostOf(t.str(api.OptURL))
	var n int64
	for _, ex := range m.socks {
		if ex.host == host {
			n++
		}
	}
	return n
}

func (m *Multi) checkTimeouts() {
	now := m.e.clock.Now()
	for _, t := range append([]*Transfer(nil), m.xfers...) {
		if ex := t.ex; ex != nil && ex.phase != phaseDone && ex.expired(now) {
			m.finish(ex, api.ResultOperationTimedOut)
		}
	}
}

func (m *Multi) resumeUnpaused() {
	for _, t := range append([]*Transfer(nil), m.xfers...) {
		if ex := t.ex; ex != nil && ex.phase != phaseDone {
			ex.resume()
		}
	}
}

// updateTimer reports the nearest deadline to the timer function when it
// changed.
func (m *Multi) updateTimer() {
	if m.timerFn == nil || m.closed {
		return
	}
	now := m.e.clock.Now()
	var at time.Time
	if len(m.pending) > 0 || m.kick {
		at = now
	}
	for _, t := range m.xfers {
		if ex := t.ex; ex != nil && ex.phase != phaseDone {
			if d := ex.nextDeadline(); !d.IsZero() && (at.IsZero() || d.Before(at)) {
				at = d
			}
		}
	}
	if at.IsZero() {
		if m.timerSet {
			m.timerSet = false
			m.timerFn(-1)
		}
		return
	}
	if m.timerSet && at.Equal(m.timerAt) {
		return
	}
	m.timerSet, m.timerAt = true, at
	wait := at.Sub(now)
	if wait < 0 {
		wait = 0
	}
	m.timerFn(int64((wait + time.Millisecond - 1) / time.Millisecond))
}

func (m *Multi) notify(ex *exchange, what api.PollInterest) {
	if m.socketFn != nil {
		m.socketFn(ex.t, ex.sock, what, m.assigned[ex.sock])
	}
}

// register makes a freshly connected socket known to the caller.
func (m *Multi) register(ex *exchange) {
	m.socks[ex.sock] = ex
	ex.interest = api.PollOut
	if m.socketFn != nil {
		m.socketFn(ex.t, ex.sock, api.PollOut, nil)
	}
}

// teardown removes the exchange's socket and closes it.
func (m *Multi) teardown(ex *exchange) {
	if ex.fd < 0 {
		return
	}
	if m.socks[ex.sock] == ex {
		m.notify(ex, api.PollRemove)
		delete(m.socks, ex.sock)
		delete(m.assigned, ex.sock)
	}
	if err := sysClose(ex.fd); err != nil {
		m.log.Debug("close socket", zap.Int("fd", ex.fd), zap.Error(err))
	}
	ex.fd = -1
}

// finish ends an exchange and queues its completion.
func (m *Multi) finish(ex *exchange, res api.ResultCode) {
	if ex == nil || ex.phase == phaseDone {
		return
	}
	ex.phase = phaseDone
	ex.t.info.total = m.e.clock.Since(ex.started)
	m.teardown(ex)
	m.e.bufs.Put(ex.buf)
	ex.buf = nil
	m.log.Debug("transfer finished",
		zap.String("url", ex.t.info.url), zap.Int64("code", ex.t.info.code), zap.Stringer("result", res))
	m.msgs.Add(completion{t: ex.t, gen: ex.t.gen, res: res})
}

func without(list []*Transfer, t *Transfer) []*Transfer {
	for i, x := range list {
		if x == t {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
