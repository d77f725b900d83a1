// File: fake/multi.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multi follows the engine socket protocol closely enough to drive a
// session: a started transfer asks for a writable socket (connect), then a
// readable one, receives one chunk per readable event and finally removes
// its socket before queueing a completion message.

package fake

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-xfer/api"
)

// FirstSocket is the descriptor handed to the first started transfer.
const FirstSocket api.Socket = 100

type message struct {
	t   *Transfer
	gen int
	res api.ResultCode
}

// Multi is a fake api.Multi. It is not safe for concurrent use.
type Multi struct {
	engine   *Engine
	socketFn api.SocketFunc
	timerFn  api.TimerFunc
	opts     map[api.MultiOption]api.Value

	xfers    []*Transfer
	bySock   map[api.Socket]*Transfer
	assigned map[api.Socket]any
	msgs     *queue.Queue
	nextSock api.Socket

	// FailCallbacks is returned by SetSocketFunc and SetTimerFunc when set.
	FailCallbacks error
	// FailNextAction is returned once by the next SocketAction.
	FailNextAction error
	// CloseErr is returned by Close.
	CloseErr error
	// UnknownOptions are rejected with api.MultiUnknownOption.
	UnknownOptions map[api.MultiOption]bool

	closed  bool
	actions int
}

func newMulti(e *Engine) *Multi {
	return &Multi{
		engine:         e,
		opts:           make(map[api.MultiOption]api.Value),
		bySock:         make(map[api.Socket]*Transfer),
		assigned:       make(map[api.Socket]any),
		msgs:           queue.New(),
		nextSock:       FirstSocket,
		UnknownOptions: make(map[api.MultiOption]bool),
	}
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
	t.phase = phasePending
	m.xfers = append(m.xfers, t)
	m.kick()
	return nil
}

func (m *Multi) Remove(at api.Transfer) error {
	if m.closed {
		return api.MultiBadHandle
	}
	t, ok := at.(*Transfer)
	if !ok || t.multi != m {
		return api.MultiBadEasyHandle
	}
	m.release(t)
	for i, x := range m.xfers {
		if x == t {
			m.xfers = append(m.xfers[:i], m.xfers[i+1:]...)
			break
		}
	}
	t.multi = nil
	if t.phase != phaseDone {
		t.phase = phaseIdle
	}
	return nil
}

func (m *Multi) SetSocketFunc(fn api.SocketFunc) error {
	if m.FailCallbacks != nil {
		return m.FailCallbacks
	}
	m.socketFn = fn
	return nil
}

func (m *Multi) SetTimerFunc(fn api.TimerFunc) error {
	if m.FailCallbacks != nil {
		return m.FailCallbacks
	}
	m.timerFn = fn
	return nil
}

func (m *Multi) SetOption(opt api.MultiOption, v api.Value) error {
	if m.UnknownOptions[opt] {
		return api.MultiUnknownOption
	}
	m.opts[opt] = v
	return nil
}

// Option returns the value last set for opt.
func (m *Multi) Option(opt api.MultiOption) (api.Value, bool) {
	v, ok := m.opts[opt]
	return v, ok
}

func (m *Multi) Assign(s api.Socket, data any) error {
	if _, ok := m.bySock[s]; !ok {
		return api.MultiBadSocket
	}
	m.assigned[s] = data
	return nil
}

// Assigned returns the data last assigned to s.
func (m *Multi) Assigned(s api.Socket) any { return m.assigned[s] }

func (m *Multi) SocketAction(s api.Socket, ready api.ReadyMask) (int, error) {
	if m.closed {
		return 0, api.MultiBadHandle
	}
	if err := m.FailNextAction; err != nil {
		m.FailNextAction = nil
		return 0, err
	}
	m.actions++

	if s == api.SocketTimeout {
		for _, t := range append([]*Transfer(nil), m.xfers...) {
			switch t.phase {
			case phasePending:
				m.start(t)
			case phaseReading:
				m.pump(t)
			}
		}
		return m.running(), nil
	}

	t, ok := m.bySock[s]
	if !ok {
		return 0, api.MultiBadSocket
	}
	switch {
	case ready&api.ReadyErr != 0:
		m.finish(t, api.ResultRecvError)
	case t.phase == phaseConnecting && ready&api.ReadyOut != 0:
		t.phase = phaseReading
		m.notify(t, s, api.PollIn, m.assigned[s])
	case t.phase == phaseReading && ready&api.ReadyIn != 0:
		m.pump(t)
	}
	return m.running(), nil
}

func (m *Multi) InfoRead() (api.Message, bool) {
	for m.msgs.Length() > 0 {
		msg := m.msgs.Remove().(message)
		if msg.t.multi != m || msg.t.gen != msg.gen {
			continue
		}
		return api.Message{Kind: api.MessageDone, Transfer: msg.t, Result: msg.res}, true
	}
	return api.Message{}, false
}

// Close removes every live socket through the socket callback and detaches
// all transfers.
func (m *Multi) Close() error {
	if m.closed {
		return nil
	}
	for _, t := range m.xfers {
		m.release(t)
		t.multi = nil
	}
	m.xfers = nil
	m.closed = true
	return m.CloseErr
}

// Reassign moves the transfer using old onto descriptor fd, keeping its
// interest and assigned data, the way an engine does after reconnecting.
func (m *Multi) Reassign(old, fd api.Socket) {
	t, ok := m.bySock[old]
	if !ok {
		return
	}
	data := m.assigned[old]
	delete(m.bySock, old)
	delete(m.assigned, old)
	m.bySock[fd] = t
	m.assigned[fd] = data
	t.sock = fd
	what := api.PollOut
	if t.phase == phaseReading {
		what = api.PollIn
	}
	m.notify(t, fd, what, data)
}

// Closed reports whether Close was called.
func (m *Multi) Closed() bool { return m.closed }

// Len returns the number of attached transfers.
func (m *Multi) Len() int { return len(m.xfers) }

// Actions returns the number of SocketAction calls that reached the engine.
func (m *Multi) Actions() int { return m.actions }

// Sockets returns the number of live sockets.
func (m *Multi) Sockets() int { return len(m.bySock) }

func (m *Multi) kick() {
	if m.timerFn != nil {
		m.timerFn(0)
	}
}

func (m *Multi) running() int {
	n := 0
	for _, t := range m.xfers {
		if t.phase != phaseDone {
			n++
		}
	}
	return n
}

func (m *Multi) start(t *Transfer) {
	if res, ok := t.begin(); !ok {
		m.finish(t, res)
		return
	}
	if t.route.Immediate {
		for {
			if res, more := t.deliver(); !more {
				m.finish(t, res)
				return
			}
			if t.paused&api.PauseRecv != 0 {
				// stalled before a socket exists; fall back to the socket path
				break
			}
		}
	}
	t.phase = phaseConnecting
	if t.next > 0 || t.paused&api.PauseRecv != 0 {
		t.phase = phaseReading
	}
	t.sock = m.nextSock
	m.nextSock++
	m.bySock[t.sock] = t
	what := api.PollOut
	if t.phase == phaseReading {
		what = api.PollIn
	}
	m.notify(t, t.sock, what, nil)
}

func (m *Multi) pump(t *Transfer) {
	if res, more := t.deliver(); !more {
		m.finish(t, res)
	}
}

// finish drops the transfer's socket and queues its completion.
func (m *Multi) finish(t *Transfer, res api.ResultCode) {
	t.phase = phaseDone
	t.result = res
	if res != api.ResultOK {
		t.status = 0
	}
	m.release(t)
	m.msgs.Add(message{t: t, gen: t.gen, res: res})
}

func (m *Multi) release(t *Transfer) {
	if t.sock == 0 {
		return
	}
	s := t.sock
	if m.bySock[s] == t {
		m.notify(t, s, api.PollRemove, m.assigned[s])
		delete(m.bySock, s)
		delete(m.assigned, s)
	}
	t.sock = 0
}

func (m *Multi) notify(t *Transfer, s api.Socket, what api.PollInterest, data any) {
	if m.socketFn != nil {
		m.socketFn(t, s, what, data)
	}
}
