package swim

import (
	"sync"
	"testing"
	"time"
)

func TestSuspicionTimeoutMonotonicInN(t *testing.T) {
	period := 100 * time.Millisecond
	small := suspicionTimeout(2, 5.0, period)
	large := suspicionTimeout(200, 5.0, period)
	if large <= small {
		t.Errorf("suspicionTimeout(200) = %v, want > suspicionTimeout(2) = %v", large, small)
	}
}

func TestSuspicionSetFiresOnExpire(t *testing.T) {
	s := newSuspicionSet()
	id := MemberID{ID: "a", Address: "a:7946"}

	var mu sync.Mutex
	fired := false
	done := make(chan struct{})

	s.start(id, 10*time.Millisecond, 3, func(gotID MemberID, inc Incarnation) {
		mu.Lock()
		fired = true
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onExpire never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Error("onExpire did not run")
	}
}

func TestSuspicionSetCancelPreventsExpire(t *testing.T) {
	s := newSuspicionSet()
	id := MemberID{ID: "a", Address: "a:7946"}

	fired := make(chan struct{}, 1)
	s.start(id, 20*time.Millisecond, 1, func(MemberID, Incarnation) {
		fired <- struct{}{}
	})
	s.cancel(id)

	select {
	case <-fired:
		t.Fatal("onExpire fired after cancel")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSuspicionSetRestartReplacesTimer(t *testing.T) {
	s := newSuspicionSet()
	id := MemberID{ID: "a", Address: "a:7946"}

	var calls int
	var mu sync.Mutex
	done := make(chan struct{})

	s.start(id, 5*time.Millisecond, 1, func(MemberID, Incarnation) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	// Immediately restart with a longer deadline; the first timer must
	// not fire at all.
	s.start(id, 30*time.Millisecond, 2, func(MemberID, Incarnation) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second onExpire never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (first timer must not fire after restart)", calls)
	}
}

func TestSuspicionSetCancelAll(t *testing.T) {
	s := newSuspicionSet()
	fired := make(chan struct{}, 2)
	s.start(MemberID{ID: "a"}, 10*time.Millisecond, 1, func(MemberID, Incarnation) { fired <- struct{}{} })
	s.start(MemberID{ID: "b"}, 10*time.Millisecond, 1, func(MemberID, Incarnation) { fired <- struct{}{} })
	s.cancelAll()

	select {
	case <-fired:
		t.Fatal("onExpire fired after cancelAll")
	case <-time.After(40 * time.Millisecond):
	}
}
