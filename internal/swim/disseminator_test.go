package swim

import "testing"

func TestDisseminationLimitScalesWithN(t *testing.T) {
	small := disseminationLimit(3, 2)
	large := disseminationLimit(3, 1000)
	if large <= small {
		t.Errorf("disseminationLimit(1000) = %d, want > disseminationLimit(2) = %d", large, small)
	}
	if disseminationLimit(3, 0) < 1 {
		t.Error("disseminationLimit must never be below 1")
	}
}

func TestDisseminatorIngestAcceptsAndPushes(t *testing.T) {
	tbl := newTable()
	q := newBroadcastQueue()
	cfg := DefaultConfig()
	d := newDisseminator(q, tbl, &cfg)

	changes := d.ingest([]MembershipUpdate{update("a", Alive, 0)})
	if len(changes) != 1 || changes[0].Kind != ChangeJoined {
		t.Fatalf("ingest of new member = %+v, want ChangeJoined", changes)
	}
	if q.len() != 1 {
		t.Errorf("queue len after ingest = %d, want 1", q.len())
	}
}

func TestDisseminatorIngestRejectsStale(t *testing.T) {
	tbl := newTable()
	q := newBroadcastQueue()
	cfg := DefaultConfig()
	d := newDisseminator(q, tbl, &cfg)

	d.ingest([]MembershipUpdate{update("a", Alive, 5)})
	q.clear()

	changes := d.ingest([]MembershipUpdate{update("a", Dead, 3)})
	if len(changes) != 0 {
		t.Errorf("ingest of stale update produced changes: %+v", changes)
	}
	if q.len() != 0 {
		t.Errorf("queue len after stale ingest = %d, want 0", q.len())
	}
}

func TestDisseminatorPayloadForMessageRespectsMaxSize(t *testing.T) {
	tbl := newTable()
	q := newBroadcastQueue()
	cfg := DefaultConfig()
	cfg.MaxPayloadSize = 2
	d := newDisseminator(q, tbl, &cfg)

	for _, id := range []string{"a", "b", "c", "d"} {
		q.push(update(id, Alive, 0))
	}
	payload := d.payloadForMessage()
	if len(payload) != 2 {
		t.Fatalf("payloadForMessage len = %d, want 2 (MaxPayloadSize)", len(payload))
	}
}

func TestDisseminatorPayloadForMessageEmptyQueue(t *testing.T) {
	tbl := newTable()
	q := newBroadcastQueue()
	cfg := DefaultConfig()
	d := newDisseminator(q, tbl, &cfg)

	if payload := d.payloadForMessage(); payload != nil {
		t.Errorf("payloadForMessage on empty queue = %v, want nil", payload)
	}
}

func TestDisseminatorRemovesExpiredAfterLimitReached(t *testing.T) {
	tbl := newTable()
	q := newBroadcastQueue()
	cfg := DefaultConfig()
	cfg.MaxPayloadSize = 10
	cfg.BaseDisseminationLimit = 1 // ceil(1 * log(1)) floors to 1 via the >=1 guard
	d := newDisseminator(q, tbl, &cfg)

	q.push(update("a", Alive, 0))
	d.payloadForMessage() // first send bumps counter to 1, reaching the limit
	if q.len() != 0 {
		t.Errorf("queue len after reaching dissemination limit = %d, want 0", q.len())
	}
}
