// File: api/codes.go
// Author: momentics <momentics@gmail.com>
//
// Engine result codes. Both code types implement error so they can be wrapped
// and recovered with errors.As; the OK values are never returned as errors.

package api

import "fmt"

// ResultCode is the outcome of a single transfer.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultUnsupportedProtocol
	ResultFailedInit
	ResultURLMalformat
	ResultCouldntResolveHost
	ResultCouldntConnect
	ResultPartialFile
	ResultWriteError
	ResultReadError
	ResultOperationTimedOut
	ResultAbortedByCallback
	ResultBadFunctionArgument
	ResultUnknownOption
	ResultSendError
	ResultRecvError
	ResultGotNothing
	ResultBadContentEncoding
)

var resultNames = map[ResultCode]string{
	ResultOK:                  "no error",
	ResultUnsupportedProtocol: "unsupported protocol",
	ResultFailedInit:          "failed initialization",
	ResultURLMalformat:        "malformed URL",
	ResultCouldntResolveHost:  "could not resolve host",
	ResultCouldntConnect:      "could not connect",
	ResultPartialFile:         "transferred a partial file",
	ResultWriteError:          "write callback refused data",
	ResultReadError:           "read callback failed",
	ResultOperationTimedOut:   "operation timed out",
	ResultAbortedByCallback:   "aborted by callback",
	ResultBadFunctionArgument: "bad function argument",
	ResultUnknownOption:       "unknown option",
	ResultSendError:           "failed sending data",
	ResultRecvError:           "failure receiving data",
	ResultGotNothing:          "server returned nothing",
	ResultBadContentEncoding:  "unrecognized content encoding",
}

func (c ResultCode) String() string {
	if s, ok := resultNames[c]; ok {
		return s
	}
	return fmt.Sprintf("result code %d", int(c))
}

func (c ResultCode) Error() string { return "transfer: " + c.String() }

// Err returns nil for ResultOK and c otherwise.
func (c ResultCode) Err() error {
	if c == ResultOK {
		return nil
	}
	return c
}

// MultiCode is the outcome of a multiplexer call.
type MultiCode int

const (
	MultiOK MultiCode = iota
	MultiBadHandle
	MultiBadEasyHandle
	MultiOutOfMemory
	MultiInternalError
	MultiBadSocket
	MultiUnknownOption
	MultiAddedAlready
	MultiRecursiveAPICall
)

var multiNames = map[MultiCode]string{
	MultiOK:               "no error",
	MultiBadHandle:        "invalid multi handle",
	MultiBadEasyHandle:    "invalid transfer handle",
	MultiOutOfMemory:      "out of memory",
	MultiInternalError:    "internal error",
	MultiBadSocket:        "invalid socket",
	MultiUnknownOption:    "unknown option",
	MultiAddedAlready:     "transfer already added",
	MultiRecursiveAPICall: "recursive API call",
}

func (c MultiCode) String() string {
	if s, ok := multiNames[c]; ok {
		return s
	}
	return fmt.Sprintf("multi code %d", int(c))
}

func (c MultiCode) Error() string { return "multi: " + c.String() }

// Err returns nil for MultiOK and c otherwise.
func (c MultiCode) Err() error {
	if c == MultiOK {
		return nil
	}
	return c
}
