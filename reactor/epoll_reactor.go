//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll poller.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-xfer/api"
)

// epollPoller is a level-triggered epoll set plus an eventfd used to
// interrupt a blocked wait.
type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &epollPoller{epfd: epfd, wakefd: wakefd}, nil
}

func toEpoll(ev api.EventMask) uint32 {
	var out uint32
	if ev&api.EventRead != 0 {
		out |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&api.EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

// fromEpoll maps hangups to readability so the reader observes EOF itself.
func fromEpoll(ev uint32) api.EventMask {
	var out api.EventMask
	if ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		out |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		out |= api.EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		out |= api.EventError
	}
	return out
}

func (p *epollPoller) add(fd int, ev api.EventMask) error {
	e := unix.EpollEvent{Events: toEpoll(ev), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &e)
}

func (p *epollPoller) mod(fd int, ev api.EventMask) error {
	e := unix.EpollEvent{Events: toEpoll(ev), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &e)
}

func (p *epollPoller) del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(events []readyEvent, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]
	ms := -1
	if timeout >= 0 {
		// round up so a sub-millisecond deadline does not spin
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakefd {
			var buf [8]byte
			_, _ = unix.Read(p.wakefd, buf[:])
			continue
		}
		events[out] = readyEvent{fd: fd, ev: fromEpoll(raw[i].Events)}
		out++
	}
	return out, nil
}

func (p *epollPoller) wake() error {
	buf := [8]byte{1}
	_, err := unix.Write(p.wakefd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (p *epollPoller) close() error {
	return multierr.Combine(unix.Close(p.wakefd), unix.Close(p.epfd))
}

// ignoreGone treats descriptors the kernel already dropped from the set
// (closed by their owner) as successfully removed.
func ignoreGone(err error) error {
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}
