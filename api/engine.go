// File: api/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transfer engine capability surface. The engine owns connections, protocol
// parsing and name resolution; callers only see transfers, a multiplexer and
// the socket/timer callback protocol the multiplexer uses to ask for readiness
// notifications.

package api

// Socket identifies an engine-managed socket (a file descriptor on unix).
type Socket uintptr

// SocketTimeout is passed to Multi.SocketAction when no specific socket is
// ready and the engine should only process its timeouts.
const SocketTimeout Socket = ^Socket(0)

// PollInterest is what the engine wants to be told about a socket.
type PollInterest int

const (
	PollNone   PollInterest = iota // keep the socket, no direction wanted right now
	PollIn                         // readable
	PollOut                        // writable
	PollInOut                      // both
	PollRemove                     // forget this socket entirely
)

func (p PollInterest) String() string {
	switch p {
	case PollNone:
		return "none"
	case PollIn:
		return "in"
	case PollOut:
		return "out"
	case PollInOut:
		return "inout"
	case PollRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ReadyMask is the readiness reported back to the engine.
type ReadyMask int

const (
	ReadyIn ReadyMask = 1 << iota
	ReadyOut
	ReadyErr
)

// PauseMask selects transfer directions to pause.
type PauseMask int

const (
	PauseRecv PauseMask = 1 << iota
	PauseSend
	PauseAll = PauseRecv | PauseSend
)

// Magic callback return values.
const (
	// WritePause returned from a WriteFunc pauses receiving.
	WritePause = -0x10000001
	// ReadPause returned from a ReadFunc pauses sending.
	ReadPause = -0x10000001
	// ReadAbort returned from a ReadFunc aborts the transfer.
	ReadAbort = -0x10000000
)

// DebugKind classifies data handed to a DebugFunc.
type DebugKind int

const (
	DebugText DebugKind = iota
	DebugHeaderIn
	DebugHeaderOut
	DebugDataIn
	DebugDataOut
)

// Transfer callback slots. Return conventions follow the engine:
// WriteFunc and HeaderFunc return the number of bytes consumed (anything other
// than len(data) aborts, WritePause pauses), ReadFunc returns bytes produced
// (0 = end of upload), ProgressFunc and DebugFunc abort on non-zero.
type (
	WriteFunc    func(data []byte) int
	ReadFunc     func(buf []byte) int
	HeaderFunc   func(line []byte) int
	ProgressFunc func(dlTotal, dlNow, ulTotal, ulNow int64) int
	DebugFunc    func(kind DebugKind, data []byte) int
)

// SocketFunc is invoked by the multiplexer whenever it wants to start,
// change or stop monitoring a socket. socketData is whatever was last
// assigned to the socket through Multi.Assign (nil on first sight).
type SocketFunc func(t Transfer, s Socket, what PollInterest, socketData any)

// TimerFunc is invoked by the multiplexer when it wants a timeout armed.
// A negative value cancels the timeout.
type TimerFunc func(timeoutMs int64)

// MessageKind distinguishes completion queue entries.
type MessageKind int

const (
	MessageNone MessageKind = iota
	MessageDone
)

// Message is a completion notification drained with Multi.InfoRead.
type Message struct {
	Kind     MessageKind
	Transfer Transfer
	Result   ResultCode
}

// Engine creates transfers and multiplexers.
type Engine interface {
	NewTransfer() (Transfer, error)
	NewMulti() (Multi, error)
}

// Transfer is a single engine transfer object. Implementations must be
// comparable (pointer receivers): multiplexers and sessions key maps by it.
type Transfer interface {
	SetOption(opt Option, v Value) error
	Info(id InfoID) (Value, error)

	SetWriteFunc(fn WriteFunc) error
	SetReadFunc(fn ReadFunc) error
	SetHeaderFunc(fn HeaderFunc) error
	SetProgressFunc(fn ProgressFunc) error
	SetDebugFunc(fn DebugFunc) error

	// Pause applies the full pause state (not a delta).
	Pause(mask PauseMask) error

	// Perform runs the transfer synchronously.
	Perform() ResultCode

	// Reset drops every option and callback.
	Reset()

	// Duplicate returns a new transfer with the same options.
	Duplicate() (Transfer, error)

	Close()
}

// Multi coordinates many transfers within one thread.
type Multi interface {
	Add(t Transfer) error
	Remove(t Transfer) error

	SetSocketFunc(fn SocketFunc) error
	SetTimerFunc(fn TimerFunc) error
	SetOption(opt MultiOption, v Value) error

	// Assign associates private data with a socket; it is handed back on
	// every later SocketFunc call for that socket. nil clears it.
	Assign(s Socket, data any) error

	// SocketAction drives the multiplexer after readiness on s (or
	// SocketTimeout) and reports the number of transfers still running.
	SocketAction(s Socket, ready ReadyMask) (running int, err error)

	// InfoRead pops the next completion message.
	InfoRead() (Message, bool)

	Close() error
}
