// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a single-goroutine, level-triggered event loop:
// descriptor readiness watches over epoll (Linux) and one-shot timers kept
// in a deadline heap. Loop implements api.Reactor.
package reactor
