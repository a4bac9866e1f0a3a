package swim

import "sync"

// broadcastQueue holds at most one pending MembershipUpdate per
// MemberId, ranked for dissemination (§4.3).
//
// Priority (descending): (1) higher status severity; (2) lower
// dissemination counter (newer wins); (3) higher incarnation. Entries
// are keyed by MemberID.ID, matching the membership table's key
// convention — within one table a given id owns exactly one live
// address.
type broadcastQueue struct {
	mu   sync.Mutex
	heap *indexedHeap
}

func newBroadcastQueue() *broadcastQueue {
	return &broadcastQueue{heap: newIndexedHeap(broadcastLess)}
}

func broadcastLess(a, b MembershipUpdate) bool {
	if a.Status.Severity() != b.Status.Severity() {
		return a.Status.Severity() > b.Status.Severity()
	}
	if a.count != b.count {
		return a.count < b.count
	}
	return a.Incarnation > b.Incarnation
}

// dominates reports whether incoming would win over cur under §4.3's
// replace rule: strictly greater incarnation always wins; at equal
// incarnation, higher severity wins.
func dominates(incoming, cur MembershipUpdate) bool {
	if incoming.Incarnation != cur.Incarnation {
		return incoming.Incarnation > cur.Incarnation
	}
	return incoming.Status.Severity() > cur.Status.Severity()
}

// push inserts update if no entry exists for its MemberID, or
// replaces the existing entry when update dominates it. A freshly
// pushed/replaced entry starts its dissemination counter at 0.
func (q *broadcastQueue) push(update MembershipUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()

	update.count = 0
	cur, ok := q.heap.Get(update.ID.ID)
	if !ok {
		q.heap.Push(update.ID.ID, update)
		return
	}
	if dominates(update, cur) {
		q.heap.Push(update.ID.ID, update)
	}
}

// peek returns up to k updates in priority order without mutation.
func (q *broadcastQueue) peek(k int) []MembershipUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Items(k)
}

// incrementCounters bumps the dissemination counter on each named entry.
func (q *broadcastQueue) incrementCounters(ids []MemberID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		u, ok := q.heap.Get(id.ID)
		if !ok {
			continue
		}
		u.count++
		q.heap.Push(id.ID, u)
	}
}

// removeExpired drops any entry whose counter has reached limit.
func (q *broadcastQueue) removeExpired(limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range q.heap.All() {
		if u.count >= limit {
			q.heap.Remove(u.ID.ID)
		}
	}
}

func (q *broadcastQueue) remove(id MemberID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap.Remove(id.ID)
}

func (q *broadcastQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap.Clear()
}

func (q *broadcastQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
