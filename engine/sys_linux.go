//go:build linux

// File: engine/sys_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw non-blocking socket operations.

package engine

import (
	"errors"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-xfer/api"
)

func sockaddr(ap netip.AddrPort) (int, unix.Sockaddr) {
	a := ap.Addr()
	if a.Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(ap.Port()), Addr: a.As4()}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: int(ap.Port()), Addr: a.As16()}
}

// dial starts a non-blocking connect; completion is signalled by writability.
func dial(ap netip.AddrPort) (int, error) {
	family, sa := sockaddr(ap)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// connectError reports the outcome of a finished non-blocking connect.
func connectError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

func sysRead(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func sysWrite(fd int, p []byte, nosignal bool) (int, error) {
	flags := 0
	if nosignal {
		flags = unix.MSG_NOSIGNAL
	}
	for {
		n, err := unix.SendmsgN(fd, p, nil, nil, flags)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

func sysClose(fd int) error { return unix.Close(fd) }

// wouldBlock also covers a socket whose connect is still in flight.
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.ENOTCONN)
}

type polled struct {
	sock  api.Socket
	ready api.ReadyMask
}

// pollSockets waits for the requested interests; timeout < 0 waits forever.
func pollSockets(interest map[api.Socket]api.PollInterest, timeout time.Duration) ([]polled, error) {
	fds := make([]unix.PollFd, 0, len(interest))
	for s, what := range interest {
		var ev int16
		switch what {
		case api.PollIn:
			ev = unix.POLLIN
		case api.PollOut:
			ev = unix.POLLOUT
		case api.PollInOut:
			ev = unix.POLLIN | unix.POLLOUT
		default:
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(s), Events: ev})
	}
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]polled, 0, n)
	for _, fd := range fds {
		if fd.Revents == 0 {
			continue
		}
		var m api.ReadyMask
		if fd.Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			m |= api.ReadyIn
		}
		if fd.Revents&unix.POLLOUT != 0 {
			m |= api.ReadyOut
		}
		if fd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			m |= api.ReadyErr
		}
		out = append(out, polled{sock: api.Socket(fd.Fd), ready: m})
	}
	return out, nil
}
