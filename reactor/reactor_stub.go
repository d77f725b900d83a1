//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub poller for unsupported platforms.

package reactor

import "errors"

func newPoller() (poller, error) {
	return nil, errors.New("reactor: this platform is not supported")
}

func ignoreGone(err error) error { return err }
