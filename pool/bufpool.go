// File: pool/bufpool.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte buffer pool keyed by capacity. Every capacity class has a bounded free
// list; buffers returned to a full list are left to the GC.

package pool

import (
	"sync"
	"sync/atomic"
)

// DefaultDepth bounds each free list when New is given a non-positive depth.
const DefaultDepth = 256

// Stats counts pool traffic since creation.
type Stats struct {
	Gets    uint64 // buffers handed out
	Hits    uint64 // of those, served from a free list
	Puts    uint64 // buffers returned
	Dropped uint64 // returned buffers discarded because their list was full
	Classes int    // capacity classes seen
}

// BytePool recycles byte slices. It is safe for concurrent use.
type BytePool struct {
	mu    sync.Mutex
	free  map[int]chan []byte
	depth int

	gets, hits, puts, dropped atomic.Uint64
}

// New creates a pool whose free lists hold at most depth buffers each.
func New(depth int) *BytePool {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &BytePool{free: make(map[int]chan []byte), depth: depth}
}

func (p *BytePool) class(capacity int) chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.free[capacity]
	if !ok {
		ch = make(chan []byte, p.depth)
		p.free[capacity] = ch
	}
	return ch
}

// Get returns a buffer of length and capacity size. Its contents are
// unspecified.
func (p *BytePool) Get(size int) []byte {
	p.gets.Add(1)
	if size <= 0 {
		return nil
	}
	select {
	case b := <-p.class(size):
		p.hits.Add(1)
		return b[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns b to the free list of its capacity. The caller must not use b
// afterwards.
func (p *BytePool) Put(b []byte) {
	if cap(b) == 0 {
		return
	}
	p.puts.Add(1)
	select {
	case p.class(cap(b)) <- b[:cap(b)]:
	default:
		p.dropped.Add(1)
	}
}

// Stats reports counters and the number of capacity classes.
func (p *BytePool) Stats() Stats {
	p.mu.Lock()
	classes := len(p.free)
	p.mu.Unlock()
	return Stats{
		Gets:    p.gets.Load(),
		Hits:    p.hits.Load(),
		Puts:    p.puts.Load(),
		Dropped: p.dropped.Load(),
		Classes: classes,
	}
}
