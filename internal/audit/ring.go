package audit

import (
	"context"
	"sync"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// RingSink keeps the most recent decisions in memory. Older entries are
// overwritten once capacity is reached.
type RingSink struct {
	mu    sync.Mutex
	buf   []gate.EmitDecision
	next  int
	full  bool
	total uint64
}

// NewRingSink returns a ring holding up to capacity decisions. A capacity
// below 1 is treated as 1.
func NewRingSink(capacity int) *RingSink {
	if capacity < 1 {
		capacity = 1
	}
	return &RingSink{buf: make([]gate.EmitDecision, capacity)}
}

// Record stores d, evicting the oldest entry when full.
func (r *RingSink) Record(_ context.Context, d gate.EmitDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	return nil
}

// Snapshot returns the retained decisions, oldest first.
func (r *RingSink) Snapshot() []gate.EmitDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]gate.EmitDecision(nil), r.buf[:r.next]...)
	}
	out := make([]gate.EmitDecision, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Len is the number of retained decisions.
func (r *RingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Total counts every decision ever recorded, including evicted ones.
func (r *RingSink) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
