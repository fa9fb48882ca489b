package link

import "sync/atomic"

// slot is the per-class request/response counter pair. Idle means the
// counters are equal; a request is outstanding while they differ. Each
// field has exactly one writer: callers bump req, the completing side
// (scheduler for fire-and-forget classes, correlator for registers) bumps
// resp. No lock is ever taken on a slot.
type slot struct {
	req  atomic.Uint32
	resp atomic.Uint32
	wake chan struct{}
}

func (s *slot) init() {
	s.wake = make(chan struct{}, 1)
}

func (s *slot) idle() bool {
	return s.req.Load() == s.resp.Load()
}

func (s *slot) post() {
	s.req.Add(1)
}

func (s *slot) complete() {
	s.resp.Add(1)
	signal(s.wake)
}

// signal is a non-blocking wakeup: one pending notification is enough,
// waiters re-check their counters anyway.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
