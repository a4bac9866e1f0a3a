package swim

import (
	"sync"
	"time"
)

// OnExpire is invoked when a suspicion deadline fires. The engine's
// implementation re-enters the engine's single serialisation point
// before calling mark_dead, so a mark_alive that committed first
// (cancelling the suspicion logically, even if the cancel() call
// below lost the race against an already-firing timer) is observed:
// mark_dead's own precondition ("current incarnation ≤ the incarnation
// the suspicion was raised at") rejects a stale expiry once a higher
// incarnation has landed, which is exactly what a prior mark_alive
// produces. See §9's open question on suspicion-timer cancellation
// races and DESIGN.md.
type OnExpire func(id MemberID, incarnationObserved Incarnation)

// suspicionSet is a map of MemberID → cancellable deadline (§4.5). At
// most one timer is active per MemberID at a time.
type suspicionSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newSuspicionSet() *suspicionSet {
	return &suspicionSet{timers: make(map[string]*time.Timer)}
}

// start begins a suspicion deadline for id. Starting a timer while
// one already exists for id cancels the prior one first.
func (s *suspicionSet) start(id MemberID, d time.Duration, incarnationObserved Incarnation, onExpire OnExpire) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[id.ID]; ok {
		prev.Stop()
	}

	var self *time.Timer
	self = time.AfterFunc(d, func() {
		s.mu.Lock()
		// Only fire if we're still the active timer for this id: a
		// later start() (or a racing cancel()) may have already
		// replaced or removed us.
		if cur, ok := s.timers[id.ID]; !ok || cur != self {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id.ID)
		s.mu.Unlock()
		onExpire(id, incarnationObserved)
	})
	s.timers[id.ID] = self
}

// cancel stops the active timer for id, if any. Cancellation
// guarantees no future invocation of onExpire for that id — a timer
// already in its expiry callback may still run to completion, which
// is safe per the OnExpire contract above.
func (s *suspicionSet) cancel(id MemberID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id.ID]; ok {
		t.Stop()
		delete(s.timers, id.ID)
	}
}

// cancelAll stops every active timer, used by stop().
func (s *suspicionSet) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// suspicionTimeout computes max(1, log(N)) × multiplier × period (§4.5).
func suspicionTimeout(n int, multiplier float64, period time.Duration) time.Duration {
	factor := logFactor(n)
	if factor < 1 {
		factor = 1
	}
	return time.Duration(factor * multiplier * float64(period))
}
