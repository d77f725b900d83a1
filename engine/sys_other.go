//go:build !linux

// File: engine/sys_other.go
// Author: momentics <momentics@gmail.com>

package engine

import (
	"errors"
	"net/netip"
	"time"

	"github.com/momentics/hioload-xfer/api"
)

var errUnsupported = errors.New("engine: sockets are not supported on this platform")

func dial(netip.AddrPort) (int, error) { return -1, errUnsupported }
func connectError(int) error { return errUnsupported }
func sysRead(int, []byte) (int, error) { return 0, errUnsupported }
func sysWrite(int, []byte, bool) (int, error) { return 0, errUnsupported }
func sysClose(int) error { return nil }
func wouldBlock(error) bool { return false }

type polled struct {
	sock  api.Socket
	ready api.ReadyMask
}

func pollSockets(map[api.Socket]api.PollInterest, time.Duration) ([]polled, error) {
	return nil, errUnsupported
}
