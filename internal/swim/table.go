package swim

import (
	"math/rand"
	"sync"
)

// table is the authoritative local membership map (§4.2). It owns
// every Member record and maintains three auxiliary index sets
// (Alive, Suspect, Dead) that at all times exactly partition the
// keyspace — random selection draws from these sets directly instead
// of scanning the whole map.
//
// The entire table is guarded by one mutex; every operation below is
// atomic with respect to every other.
type table struct {
	mu      sync.Mutex
	members map[string]Member // keyed by MemberID.ID

	aliveIdx   map[string]struct{}
	suspectIdx map[string]struct{}
	deadIdx    map[string]struct{}

	deadAt map[string]int64 // monotonic "marked dead at" nanos, for GC (SPEC_FULL)

	rrOrder []string // round-robin traversal order over Alive ∪ Suspect
	rrPos   int
}

func newTable() *table {
	return &table{
		members:    make(map[string]Member),
		aliveIdx:   make(map[string]struct{}),
		suspectIdx: make(map[string]struct{}),
		deadIdx:    make(map[string]struct{}),
		deadAt:     make(map[string]int64),
	}
}

func (t *table) indexFor(s Status) map[string]struct{} {
	switch s {
	case Alive:
		return t.aliveIdx
	case Suspect:
		return t.suspectIdx
	default:
		return t.deadIdx
	}
}

// moveIndex removes key from every status index, then inserts it
// into the one for s. Must be called with t.mu held.
func (t *table) moveIndex(key string, s Status) {
	delete(t.aliveIdx, key)
	delete(t.suspectIdx, key)
	delete(t.deadIdx, key)
	t.indexFor(s)[key] = struct{}{}
	t.invalidateRR()
}

func (t *table) invalidateRR() {
	t.rrOrder = nil
	t.rrPos = 0
}

// upsert applies the conflict-resolution rules of §4.2:
//  1. inc_in > inc_cur  → accept
//  2. inc_in < inc_cur  → reject
//  3. inc_in == inc_cur → accept iff status_in has higher severity
func (t *table) upsert(m Member) *Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := m.ID.ID
	cur, ok := t.members[key]
	if !ok {
		t.members[key] = m
		t.moveIndex(key, m.Status)
		return &Change{Kind: ChangeJoined, Member: m}
	}

	accept := false
	switch {
	case m.Incarnation > cur.Incarnation:
		accept = true
	case m.Incarnation < cur.Incarnation:
		accept = false
	default:
		accept = m.Status.Severity() > cur.Status.Severity()
	}
	if !accept {
		return nil
	}

	t.members[key] = m
	if m.Status != cur.Status {
		t.moveIndex(key, m.Status)
		if m.Status == Dead {
			t.deadAt[key] = nowNanos()
		}
		return &Change{Kind: ChangeStatusChanged, Member: m, From: cur.Status}
	}
	// Pure incarnation bump, no status change: index membership doesn't move.
	return nil
}

func (t *table) get(id MemberID) (Member, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[id.ID]
	return m, ok
}

// markSuspect only succeeds when the current record is Alive at
// exactly incarnationObserved.
func (t *table) markSuspect(id MemberID, incarnationObserved Incarnation) *Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := id.ID
	cur, ok := t.members[key]
	if !ok || cur.Status != Alive || cur.Incarnation != incarnationObserved {
		return nil
	}
	cur.Status = Suspect
	t.members[key] = cur
	t.moveIndex(key, Suspect)
	return &Change{Kind: ChangeStatusChanged, Member: cur, From: Alive}
}

// markDead succeeds when incarnationObserved ≥ the current
// incarnation and the current status is not already Dead.
func (t *table) markDead(id MemberID, incarnationObserved Incarnation) *Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := id.ID
	cur, ok := t.members[key]
	if !ok || cur.Incarnation > incarnationObserved || cur.Status == Dead {
		return nil
	}
	from := cur.Status
	cur.Status = Dead
	cur.Incarnation = incarnationObserved
	t.members[key] = cur
	t.moveIndex(key, Dead)
	t.deadAt[key] = nowNanos()
	return &Change{Kind: ChangeStatusChanged, Member: cur, From: from}
}

// markAlive applies a refutation: it succeeds only when
// incarnationNew is strictly greater than the current incarnation.
func (t *table) markAlive(id MemberID, incarnationNew Incarnation) *Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := id.ID
	cur, ok := t.members[key]
	if !ok || incarnationNew <= cur.Incarnation {
		return nil
	}
	from := cur.Status
	cur.Status = Alive
	cur.Incarnation = incarnationNew
	t.members[key] = cur
	t.moveIndex(key, Alive)
	if from == Alive {
		return nil
	}
	return &Change{Kind: ChangeStatusChanged, Member: cur, From: from}
}

func (t *table) remove(id MemberID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.ID
	delete(t.members, key)
	delete(t.aliveIdx, key)
	delete(t.suspectIdx, key)
	delete(t.deadIdx, key)
	delete(t.deadAt, key)
	t.invalidateRR()
}

// randomAlive draws up to k distinct Alive members, excluding ids in
// excluding.
func (t *table) randomAlive(k int, excluding ...MemberID) []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleIndex(t.aliveIdx, k, excluding)
}

// randomProbable returns every Alive or Suspect member, shuffled,
// excluding ids in excluding.
func (t *table) randomProbable(excluding ...MemberID) []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	combined := make(map[string]struct{}, len(t.aliveIdx)+len(t.suspectIdx))
	for k := range t.aliveIdx {
		combined[k] = struct{}{}
	}
	for k := range t.suspectIdx {
		combined[k] = struct{}{}
	}
	return t.sampleIndex(combined, len(combined), excluding)
}

func (t *table) sampleIndex(idx map[string]struct{}, k int, excluding []MemberID) []Member {
	exclude := make(map[string]struct{}, len(excluding))
	for _, e := range excluding {
		exclude[e.ID] = struct{}{}
	}

	candidates := make([]Member, 0, len(idx))
	for key := range idx {
		if _, skip := exclude[key]; skip {
			continue
		}
		candidates = append(candidates, t.members[key])
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

// nextRoundRobin returns the next member in a fair traversal over
// Alive ∪ Suspect, excluding self. The traversal order is reshuffled
// whenever it runs out or membership changes.
func (t *table) nextRoundRobin(excluding MemberID) (Member, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rrOrder == nil || t.rrPos >= len(t.rrOrder) {
		t.rebuildRR()
	}
	if len(t.rrOrder) == 0 {
		return Member{}, false
	}

	for i := 0; i < len(t.rrOrder); i++ {
		pos := t.rrPos
		t.rrPos++
		if t.rrPos >= len(t.rrOrder) {
			// Exhausted this epoch; next call reshuffles.
		}
		key := t.rrOrder[pos]
		if key == excluding.ID {
			continue
		}
		m, ok := t.members[key]
		if !ok || (m.Status != Alive && m.Status != Suspect) {
			continue
		}
		return m, true
	}
	return Member{}, false
}

func (t *table) rebuildRR() {
	order := make([]string, 0, len(t.aliveIdx)+len(t.suspectIdx))
	for k := range t.aliveIdx {
		order = append(order, k)
	}
	for k := range t.suspectIdx {
		order = append(order, k)
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	t.rrOrder = order
	t.rrPos = 0
}

// aliveCount returns the number of Alive members.
func (t *table) aliveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.aliveIdx)
}

// size returns the total member count (Alive + Suspect + Dead), used
// to compute log(N)-scaled parameters (§4.4, §4.5).
func (t *table) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.members)
}

// all returns a snapshot of every member.
func (t *table) all() []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	return out
}

// gcDead removes Dead members whose deadAt timestamp is older than
// retentionNanos (SPEC_FULL "dead-member garbage collection").
func (t *table) gcDead(retentionNanos int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := nowNanos()
	for key := range t.deadIdx {
		if now-t.deadAt[key] >= retentionNanos {
			delete(t.members, key)
			delete(t.deadIdx, key)
			delete(t.deadAt, key)
		}
	}
}
