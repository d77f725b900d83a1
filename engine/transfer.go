// File: engine/transfer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

import (
	"time"

	"github.com/momentics/hioload-xfer/api"
)

// known transfer options; anything else is api.ResultUnknownOption
var knownOptions = map[api.Option]bool{
	api.OptVerbose: true, api.OptNoBody: true, api.OptUpload: true, api.OptPost: true,
	api.OptFollowLocation: true, api.OptHTTPGet: true, api.OptBufferSize: true,
	api.OptNoSignal: true, api.OptTimeoutMS: true, api.OptConnectTimeoutMS: true,
	api.OptPostFields: true, api.OptPrivate: true,
	api.OptInFileSize: true, api.OptMaxFileSize: true,
	api.OptURL: true, api.OptUserAgent: true, api.OptCustomRequest: true,
	api.OptHTTPHeader: true,
}

// Transfer is one engine transfer. It belongs to at most one Multi.
type Transfer struct {
	e    *Engine
	opts map[api.Option]api.Value

	write    api.WriteFunc
	read     api.ReadFunc
	header   api.HeaderFunc
	progress api.ProgressFunc
	debug    api.DebugFunc
	paused   api.PauseMask

	multi  *Multi
	gen    int
	ex     *exchange
	info   transferInfo
	closed bool
}

type transferInfo struct {
	url        string
	code       int64
	total      time.Duration
	download   int64
	headerSize int64
	primaryIP  string
}

func newTransfer(e *Engine) *Transfer {
	return &Transfer{e: e, opts: make(map[api.Option]api.Value)}
}

func (t *Transfer) SetOption(opt api.Option, v api.Value) error {
	if !knownOptions[opt] {
		return api.ResultUnknownOption
	}
	if !opt.Class().Accepts(v.Kind()) {
		return api.ResultBadFunctionArgument
	}
	t.opts[opt] = v
	return nil
}

func (t *Transfer) Info(id api.InfoID) (api.Value, error) {
	switch id {
	case api.InfoEffectiveURL:
		return api.String(t.info.url), nil
	case api.InfoResponseCode:
		return api.Long(t.info.code), nil
	case api.InfoTotalTime:
		return api.Double(t.info.total.Seconds()), nil
	case api.InfoSizeDownload:
		return api.Double(float64(t.info.download)), nil
	case api.InfoHeaderSize:
		return api.Long(t.info.headerSize), nil
	case api.InfoPrimaryIP:
		return api.String(t.info.primaryIP), nil
	case api.InfoActiveSocket:
		if t.ex != nil && t.ex.fd >= 0 {
			return api.SocketValue(api.Socket(t.ex.fd)), nil
		}
		return api.SocketValue(api.SocketTimeout), nil
	}
	return api.Value{}, api.ResultBadFunctionArgument
}

func (t *Transfer) SetWriteFunc(fn api.WriteFunc) error       { t.write = fn; return nil }
func (t *Transfer) SetReadFunc(fn api.ReadFunc) error         { t.read = fn; return nil }
func (t *Transfer) SetHeaderFunc(fn api.HeaderFunc) error     { t.header = fn; return nil }
func (t *Transfer) SetProgressFunc(fn api.ProgressFunc) error { t.progress = fn; return nil }
func (t *Transfer) SetDebugFunc(fn api.DebugFunc) error       { t.debug = fn; return nil }

// Pause sets the pause state. Lifting a pause on a running transfer asks the
// multiplexer for an immediate timeout, where delivery resumes.
func (t *Transfer) Pause(mask api.PauseMask) error {
	mask &= api.PauseAll
	lifted := t.paused &^ mask
	added := mask &^ t.paused
	t.paused = mask
	if t.multi == nil || t.ex == nil {
		return nil
	}
	if added != 0 {
		t.ex.sync()
	}
	if lifted != 0 {
		t.multi.kick = true
		t.multi.updateTimer()
	}
	return nil
}

// Perform runs the transfer to completion on a private multiplexer, waiting
// with poll(2).
func (t *Transfer) Perform() api.ResultCode {
	if t.multi != nil || t.closed {
		return api.ResultFailedInit
	}
	m := newMulti(t.e)
	defer m.Close()

	interest := make(map[api.Socket]api.PollInterest)
	timeout := time.Duration(-1)
	_ = m.SetSocketFunc(func(_ api.Transfer, s api.Socket, what api.PollInterest, _ any) {
		if what == api.PollRemove {
			delete(interest, s)
			return
		}
		interest[s] = what
	})
	_ = m.SetTimerFunc(func(ms int64) {
		timeout = time.Duration(ms) * time.Millisecond
		if ms < 0 {
			timeout = -1
		}
	})
	if err := m.Add(t); err != nil {
		return api.ResultFailedInit
	}

	running, err := m.SocketAction(api.SocketTimeout, 0)
	for err == nil && running > 0 {
		waiting := false
		for _, what := range interest {
			if what != api.PollNone {
				waiting = true
				break
			}
		}
		if !waiting && timeout < 0 {
			// paused with nobody left to resume it
			m.finish(t.ex, api.ResultWriteError)
			break
		}
		ready, perr := pollSockets(interest, timeout)
		if perr != nil {
			m.finish(t.ex, api.ResultRecvError)
			break
		}
		if len(ready) == 0 {
			running, err = m.SocketAction(api.SocketTimeout, 0)
			continue
		}
		for _, p := range ready {
			if _, ok := interest[p.sock]; !ok {
				continue
			}
			if running, err = m.SocketAction(p.sock, p.ready); err != nil {
				break
			}
		}
	}
	res := api.ResultFailedInit
	for {
		msg, ok := m.InfoRead()
		if !ok {
			break
		}
		if msg.Transfer == t {
			res = msg.Result
		}
	}
	_ = m.Remove(t)
	return res
}

// Reset drops options, callbacks and collected information.
func (t *Transfer) Reset() {
	t.opts = make(map[api.Option]api.Value)
	t.write, t.read, t.header, t.progress, t.debug = nil, nil, nil, nil, nil
	t.paused = 0
	t.info = transferInfo{}
}

// Duplicate copies options and callbacks into a fresh transfer.
func (t *Transfer) Duplicate() (api.Transfer, error) {
	c := newTransfer(t.e)
	for k, v := range t.opts {
		c.opts[k] = v
	}
	c.write, c.read, c.header, c.progress, c.debug = t.write, t.read, t.header, t.progress, t.debug
	return c, nil
}

// Close releases the transfer, removing it from its multiplexer first.
func (t *Transfer) Close() {
	if t.closed {
		return
	}
	if t.multi != nil {
		_ = t.multi.Remove(t)
	}
	t.closed = true
}

func (t *Transfer) flag(opt api.Option) bool { return t.opts[opt].Truth() }

func (t *Transfer) str(opt api.Option) string { return t.opts[opt].Str() }

func (t *Transfer) num(opt api.Option) (int64, bool) {
	v, ok := t.opts[opt]
	return v.Int(), ok
}

func (t *Transfer) verbose() bool { return t.debug != nil && t.flag(api.OptVerbose) }
