// File: fake/transfer.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"github.com/momentics/hioload-xfer/api"
)

type phase int

const (
	phaseIdle phase = iota
	phasePending
	phaseConnecting
	phaseReading
	phaseDone
)

// Transfer is a fake api.Transfer.
type Transfer struct {
	engine *Engine
	opts   map[api.Option]api.Value

	write    api.WriteFunc
	read     api.ReadFunc
	header   api.HeaderFunc
	progress api.ProgressFunc
	debug    api.DebugFunc
	paused   api.PauseMask

	// FailCallbacks is returned by every callback setter when set.
	FailCallbacks error
	// FailPause is returned by Pause when set.
	FailPause error

	closed bool

	multi    *Multi
	gen      int
	phase    phase
	route    Route
	next     int
	sock     api.Socket
	received int64
	status   int64
	result   api.ResultCode
	pauses   []api.PauseMask
}

func newTransfer(e *Engine) *Transfer {
	return &Transfer{engine: e, opts: make(map[api.Option]api.Value)}
}

func (t *Transfer) SetOption(opt api.Option, v api.Value) error {
	if t.engine.UnknownOptions[opt] {
		return api.ResultUnknownOption
	}
	t.opts[opt] = v
	return nil
}

// Option returns the value last set for opt.
func (t *Transfer) Option(opt api.Option) (api.Value, bool) {
	v, ok := t.opts[opt]
	return v, ok
}

func (t *Transfer) Info(id api.InfoID) (api.Value, error) {
	switch id {
	case api.InfoEffectiveURL:
		return api.String(t.opts[api.OptURL].Str()), nil
	case api.InfoResponseCode:
		return api.Long(t.status), nil
	case api.InfoTotalTime:
		return api.Double(0), nil
	case api.InfoSizeDownload:
		return api.Double(float64(t.received)), nil
	case api.InfoHeaderSize:
		return api.Long(0), nil
	case api.InfoPrimaryIP:
		return api.String("127.0.0.1"), nil
	case api.InfoActiveSocket:
		return api.SocketValue(t.sock), nil
	}
	return api.Value{}, api.ResultBadFunctionArgument
}

func (t *Transfer) SetWriteFunc(fn api.WriteFunc) error {
	if t.FailCallbacks != nil {
		return t.FailCallbacks
	}
	t.write = fn
	return nil
}

func (t *Transfer) SetReadFunc(fn api.ReadFunc) error {
	if t.FailCallbacks != nil {
		return t.FailCallbacks
	}
	t.read = fn
	return nil
}

func (t *Transfer) SetHeaderFunc(fn api.HeaderFunc) error {
	if t.FailCallbacks != nil {
		return t.FailCallbacks
	}
	t.header = fn
	return nil
}

func (t *Transfer) SetProgressFunc(fn api.ProgressFunc) error {
	if t.FailCallbacks != nil {
		return t.FailCallbacks
	}
	t.progress = fn
	return nil
}

func (t *Transfer) SetDebugFunc(fn api.DebugFunc) error {
	if t.FailCallbacks != nil {
		return t.FailCallbacks
	}
	t.debug = fn
	return nil
}

// Pause records mask as the pause state. Clearing a receive pause asks the
// owning multiplexer for an immediate timeout so delivery resumes.
func (t *Transfer) Pause(mask api.PauseMask) error {
	if t.FailPause != nil {
		return t.FailPause
	}
	was := t.paused
	t.paused = mask
	t.pauses = append(t.pauses, mask)
	if was&api.PauseRecv != 0 && mask&api.PauseRecv == 0 && t.multi != nil {
		t.multi.kick()
	}
	return nil
}

// Paused returns the engine-side pause state.
func (t *Transfer) Paused() api.PauseMask { return t.paused }

// PauseCalls returns every state passed to Pause, in order.
func (t *Transfer) PauseCalls() []api.PauseMask { return append([]api.PauseMask(nil), t.pauses...) }

// Perform runs the scripted route synchronously. Pausing is not supported
// here and ends the transfer with api.ResultWriteError.
func (t *Transfer) Perform() api.ResultCode {
	res, ok := t.begin()
	if !ok {
		return res
	}
	for t.phase == phaseReading {
		if res, more := t.deliver(); !more {
			return res
		}
		if t.paused&api.PauseRecv != 0 {
			t.phase = phaseDone
			return api.ResultWriteError
		}
	}
	return t.result
}

// Reset drops every option and callback.
func (t *Transfer) Reset() {
	t.opts = make(map[api.Option]api.Value)
	t.write, t.read, t.header, t.progress, t.debug = nil, nil, nil, nil, nil
	t.paused = 0
	t.status, t.received = 0, 0
}

// Duplicate copies options and callbacks. Like a real engine it copies the
// callback values as they are, closures included.
func (t *Transfer) Duplicate() (api.Transfer, error) {
	c := newTransfer(t.engine)
	for k, v := range t.opts {
		c.opts[k] = v
	}
	c.write, c.read, c.header, c.progress, c.debug = t.write, t.read, t.header, t.progress, t.debug
	return c, nil
}

func (t *Transfer) Close() { t.closed = true }

// Closed reports whether Close was called.
func (t *Transfer) Closed() bool { return t.closed }

// Private returns the object stored through api.OptPrivate.
func (t *Transfer) Private() any { return t.opts[api.OptPrivate].Object() }

// begin resolves the route. It reports false with the final result when the
// transfer cannot start.
func (t *Transfer) begin() (api.ResultCode, bool) {
	t.next, t.received, t.status = 0, 0, 0
	url, ok := t.opts[api.OptURL]
	if !ok || url.Str() == "" {
		t.phase = phaseDone
		return api.ResultURLMalformat, false
	}
	r, ok := t.engine.routes[url.Str()]
	if !ok {
		t.phase = phaseDone
		return api.ResultCouldntResolveHost, false
	}
	t.route = r
	if t.opts[api.OptVerbose].Truth() && t.debug != nil {
		t.debug(api.DebugText, []byte("connected to "+url.Str()))
	}
	for _, h := range r.Headers {
		if t.header != nil && t.header([]byte(h)) != len(h) {
			t.phase = phaseDone
			return api.ResultWriteError, false
		}
	}
	t.status = 200
	t.phase = phaseReading
	return api.ResultOK, true
}

// deliver hands the next body chunk to the write callback. It reports false
// with the final result once the transfer is over.
func (t *Transfer) deliver() (api.ResultCode, bool) {
	if t.paused&api.PauseRecv != 0 {
		return api.ResultOK, true
	}
	if t.next < len(t.route.Chunks) {
		chunk := t.route.Chunks[t.next]
		n := len(chunk)
		if t.write != nil {
			n = t.write(chunk)
		}
		if n == api.WritePause {
			t.paused |= api.PauseRecv
			return api.ResultOK, true
		}
		if n != len(chunk) {
			t.phase = phaseDone
			return api.ResultWriteError, false
		}
		t.next++
		t.received += int64(n)
		if t.progress != nil && t.progress(0, t.received, 0, 0) != 0 {
			t.phase = phaseDone
			return api.ResultAbortedByCallback, false
		}
	}
	if t.next < len(t.route.Chunks) {
		return api.ResultOK, true
	}
	t.phase = phaseDone
	t.result = t.route.Result
	return t.route.Result, false
}
