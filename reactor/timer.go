// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
//
// One-shot timers ordered by deadline.

package reactor

import (
	"container/heap"
	"time"
)

// timer implements api.Timer.
type timer struct {
	l        *Loop
	deadline time.Time
	index    int // position in the heap, -1 when disarmed
	seq      uint64
	fn       func()
}

func (t *timer) Set(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.seq++
	t.deadline = t.l.clock.Now().Add(d)
	if t.index >= 0 {
		heap.Fix(&t.l.timers, t.index)
		return
	}
	heap.Push(&t.l.timers, t)
}

func (t *timer) Cancel() {
	t.seq++
	if t.index >= 0 {
		heap.Remove(&t.l.timers, t.index)
	}
}

func (t *timer) Armed() bool { return t.index >= 0 }

func (t *timer) OnTimeout(fn func()) { t.fn = fn }

type timerHeap []*timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *timerHeap) pop() *timer { return heap.Pop(h).(*timer) }
