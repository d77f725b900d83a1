// File: xfer/unit.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unit wraps one engine transfer together with user callbacks and pause
// state. Session membership is managed by the Session only.

package xfer

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xfer/api"
)

// DoneFunc receives the outcome of a transfer: nil on success, the engine's
// api.ResultCode on failure, ErrSessionStopped when the owning session stopped
// before the transfer finished.
type DoneFunc func(err error)

// callback slots installed on the engine transfer
const (
	slotRead uint8 = 1 << iota
	slotHeader
	slotProgress
	slotDebug
)

// Unit is a reusable transfer descriptor. It is not safe for concurrent use.
type Unit struct {
	id     string
	xfer   api.Transfer
	owner  *Session
	paused api.PauseMask
	slots  uint8

	onWrite    api.WriteFunc
	onRead     api.ReadFunc
	onHeader   api.HeaderFunc
	onProgress api.ProgressFunc
	onDebug    api.DebugFunc
	onDone     DoneFunc
}

// NewUnit creates a unit around a fresh engine transfer.
func NewUnit(engine api.Engine) (*Unit, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrBadParam)
	}
	t, err := engine.NewTransfer()
	if err != nil {
		return nil, fmt.Errorf("xfer: create transfer: %w", err)
	}
	return newUnit(t)
}

func newUnit(t api.Transfer) (*Unit, error) {
	u := &Unit{id: uuid.NewString(), xfer: t}
	if err := u.baseline(); err != nil {
		t.Close()
		return nil, err
	}
	return u, nil
}

// baseline installs the options every transfer needs regardless of what the
// caller configures: no signals, self identification, and a write closure so
// unconfigured transfers discard their data.
func (u *Unit) baseline() error {
	if err := u.xfer.SetOption(api.OptNoSignal, api.Bool(true)); err != nil {
		return engineErr("set nosignal", err)
	}
	if err := u.xfer.SetOption(api.OptPrivate, api.Object(u)); err != nil {
		return engineErr("set private", err)
	}
	if err := u.xfer.SetWriteFunc(u.write); err != nil {
		return engineErr("set write function", err)
	}
	return nil
}

// ID returns the unit's random identifier.
func (u *Unit) ID() string { return u.id }

// Owner returns the session the unit currently belongs to, or nil.
func (u *Unit) Owner() *Session { return u.owner }

// Transfer exposes the underlying engine transfer for features this package
// does not wrap. Do not close it or add it to a multiplexer directly.
func (u *Unit) Transfer() api.Transfer { return u.xfer }

// SetDoneFunc replaces the completion callback.
func (u *Unit) SetDoneFunc(fn DoneFunc) { u.onDone = fn }

// SetWriteFunc sets the body sink. A nil fn discards data.
func (u *Unit) SetWriteFunc(fn api.WriteFunc) error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	if err := u.xfer.SetWriteFunc(u.write); err != nil {
		return engineErr("set write function", err)
	}
	u.onWrite = fn
	return nil
}

// SetReadFunc sets the upload source.
func (u *Unit) SetReadFunc(fn api.ReadFunc) error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	if err := u.xfer.SetReadFunc(u.read); err != nil {
		return engineErr("set read function", err)
	}
	u.onRead = fn
	u.slots |= slotRead
	return nil
}

// SetHeaderFunc sets the response header sink.
func (u *Unit) SetHeaderFunc(fn api.HeaderFunc) error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	if err := u.xfer.SetHeaderFunc(u.header); err != nil {
		return engineErr("set header function", err)
	}
	u.onHeader = fn
	u.slots |= slotHeader
	return nil
}

// SetProgressFunc sets the progress meter callback.
func (u *Unit) SetProgressFunc(fn api.ProgressFunc) error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	if err := u.xfer.SetProgressFunc(u.progress); err != nil {
		return engineErr("set progress function", err)
	}
	u.onProgress = fn
	u.slots |= slotProgress
	return nil
}

// SetDebugFunc sets the debug trace callback.
func (u *Unit) SetDebugFunc(fn api.DebugFunc) error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	if err := u.xfer.SetDebugFunc(u.debug); err != nil {
		return engineErr("set debug function", err)
	}
	u.onDebug = fn
	u.slots |= slotDebug
	return nil
}

func (u *Unit) write(data []byte) int {
	if u.onWrite == nil {
		return len(data)
	}
	n := u.onWrite(data)
	if n == api.WritePause {
		u.paused |= api.PauseRecv
	}
	return n
}

func (u *Unit) read(buf []byte) int {
	if u.onRead == nil {
		return 0
	}
	n := u.onRead(buf)
	if n == api.ReadPause {
		u.paused |= api.PauseSend
	}
	return n
}

func (u *Unit) header(line []byte) int {
	if u.onHeader == nil {
		return len(line)
	}
	return u.onHeader(line)
}

func (u *Unit) progress(dlTotal, dlNow, ulTotal, ulNow int64) int {
	if u.onProgress == nil {
		return 0
	}
	return u.onProgress(dlTotal, dlNow, ulTotal, ulNow)
}

func (u *Unit) debug(kind api.DebugKind, data []byte) int {
	if u.onDebug == nil {
		return 0
	}
	return u.onDebug(kind, data)
}

func (u *Unit) complete(err error) {
	if u.onDone != nil {
		u.onDone(err)
	}
}

// Pause pauses the directions in mask.
func (u *Unit) Pause(mask api.PauseMask) error {
	return u.applyPause(u.paused | (mask & api.PauseAll))
}

// Unpause resumes the directions in mask.
func (u *Unit) Unpause(mask api.PauseMask) error {
	return u.applyPause(u.paused &^ (mask & api.PauseAll))
}

// IsPaused reports whether any direction in mask is paused.
func (u *Unit) IsPaused(mask api.PauseMask) bool { return u.paused&mask != 0 }

func (u *Unit) applyPause(next api.PauseMask) error {
	if next == u.paused {
		return nil
	}
	if u.xfer == nil {
		return ErrBadHandle
	}
	prev := u.paused
	u.paused = next
	if err := u.xfer.Pause(next); err != nil {
		u.paused = prev
		return engineErr("pause", err)
	}
	return nil
}

// Perform runs the transfer synchronously. It fails with ErrBadFunction
// while the unit belongs to a session. The done callback is invoked with the
// result before Perform returns.
func (u *Unit) Perform() error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	if u.owner != nil {
		return ErrBadFunction
	}
	var err error
	if res := u.xfer.Perform(); res != api.ResultOK {
		err = fmt.Errorf("%w: %w", ErrInternal, res)
	}
	u.complete(err)
	return err
}

// Reset detaches the unit from its session, drops every option and
// callback, and reinstalls the baseline.
func (u *Unit) Reset() error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	u.leave()
	u.xfer.Reset()
	u.onWrite, u.onRead, u.onHeader = nil, nil, nil
	u.onProgress, u.onDebug, u.onDone = nil, nil, nil
	u.paused = 0
	u.slots = 0
	return u.baseline()
}

// Clone duplicates the transfer with its options and user callbacks. The
// copy belongs to no session and starts unpaused.
func (u *Unit) Clone() (*Unit, error) {
	if u.xfer == nil {
		return nil, ErrBadHandle
	}
	t, err := u.xfer.Duplicate()
	if err != nil {
		return nil, engineErr("duplicate transfer", err)
	}
	c, err := newUnit(t)
	if err != nil {
		return nil, err
	}
	c.onWrite = u.onWrite
	c.onDone = u.onDone
	// engine duplicates still point at u's closures; rebind them to c
	if u.slots&slotRead != 0 {
		err = c.SetReadFunc(u.onRead)
	}
	if err == nil && u.slots&slotHeader != 0 {
		err = c.SetHeaderFunc(u.onHeader)
	}
	if err == nil && u.slots&slotProgress != 0 {
		err = c.SetProgressFunc(u.onProgress)
	}
	if err == nil && u.slots&slotDebug != 0 {
		err = c.SetDebugFunc(u.onDebug)
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close removes the unit from its session, if any, and releases the engine
// transfer. Closing twice is a no-op.
func (u *Unit) Close() {
	if u.xfer == nil {
		return
	}
	u.leave()
	u.xfer.Close()
	u.xfer = nil
}

func (u *Unit) leave() {
	s := u.owner
	if s == nil {
		return
	}
	if err := s.Remove(u); err != nil {
		s.log.Warn("remove on unit teardown failed", zap.String("unit", u.id), zap.Error(err))
		s.detach(u)
	}
}
