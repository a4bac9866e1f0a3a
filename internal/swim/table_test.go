package swim

import "testing"

func member(id string, status Status, inc Incarnation) Member {
	return Member{ID: MemberID{ID: id, Address: id + ":7946"}, Status: status, Incarnation: inc}
}

func TestTableUpsertJoin(t *testing.T) {
	tbl := newTable()
	c := tbl.upsert(member("a", Alive, 0))
	if c == nil || c.Kind != ChangeJoined {
		t.Fatalf("upsert of new member = %+v, want ChangeJoined", c)
	}
	got, ok := tbl.get(MemberID{ID: "a", Address: "a:7946"})
	if !ok || got.Status != Alive {
		t.Fatalf("get after join = %+v, %v", got, ok)
	}
}

func TestTableUpsertConflictResolution(t *testing.T) {
	tbl := newTable()
	tbl.upsert(member("a", Alive, 5))

	// Lower incarnation: rejected.
	if c := tbl.upsert(member("a", Dead, 4)); c != nil {
		t.Errorf("lower-incarnation update accepted: %+v", c)
	}
	// Higher incarnation: accepted regardless of status.
	c := tbl.upsert(member("a", Suspect, 6))
	if c == nil || c.Kind != ChangeStatusChanged || c.From != Alive {
		t.Fatalf("higher-incarnation update = %+v, want accepted status change", c)
	}
	// Equal incarnation, lower severity: rejected.
	if c := tbl.upsert(member("a", Alive, 6)); c != nil {
		t.Errorf("equal-incarnation lower-severity update accepted: %+v", c)
	}
	// Equal incarnation, higher severity: accepted.
	c = tbl.upsert(member("a", Dead, 6))
	if c == nil || c.Member.Status != Dead {
		t.Fatalf("equal-incarnation higher-severity update = %+v, want accepted", c)
	}
}

func TestTableUpsertPureIncarnationBumpEmitsNoChange(t *testing.T) {
	tbl := newTable()
	tbl.upsert(member("a", Alive, 0))
	c := tbl.upsert(member("a", Alive, 1))
	if c != nil {
		t.Errorf("pure incarnation bump emitted %+v, want nil", c)
	}
}

func TestTableMarkSuspectRequiresExactIncarnation(t *testing.T) {
	tbl := newTable()
	tbl.upsert(member("a", Alive, 3))

	if c := tbl.markSuspect(MemberID{ID: "a", Address: "a:7946"}, 2); c != nil {
		t.Errorf("markSuspect with stale incarnation succeeded: %+v", c)
	}
	c := tbl.markSuspect(MemberID{ID: "a", Address: "a:7946"}, 3)
	if c == nil || c.Member.Status != Suspect {
		t.Fatalf("markSuspect = %+v, want Suspect", c)
	}
}

func TestTableMarkDeadRejectsStaleIncarnation(t *testing.T) {
	tbl := newTable()
	tbl.upsert(member("a", Suspect, 5))

	if c := tbl.markDead(MemberID{ID: "a", Address: "a:7946"}, 4); c != nil {
		t.Errorf("markDead with incarnation below current succeeded: %+v", c)
	}
	c := tbl.markDead(MemberID{ID: "a", Address: "a:7946"}, 5)
	if c == nil || c.Member.Status != Dead {
		t.Fatalf("markDead = %+v, want Dead", c)
	}
}

func TestTableMarkAliveRequiresStrictlyGreaterIncarnation(t *testing.T) {
	tbl := newTable()
	tbl.upsert(member("a", Suspect, 5))

	if c := tbl.markAlive(MemberID{ID: "a", Address: "a:7946"}, 5); c != nil {
		t.Errorf("markAlive with equal incarnation succeeded: %+v", c)
	}
	c := tbl.markAlive(MemberID{ID: "a", Address: "a:7946"}, 6)
	if c == nil || c.Member.Status != Alive || c.From != Suspect {
		t.Fatalf("markAlive = %+v, want accepted Alive transition", c)
	}
}

func TestTableRandomAliveExcludes(t *testing.T) {
	tbl := newTable()
	for _, id := range []string{"a", "b", "c"} {
		tbl.upsert(member(id, Alive, 0))
	}
	excl := MemberID{ID: "a", Address: "a:7946"}
	for i := 0; i < 20; i++ {
		for _, m := range tbl.randomAlive(3, excl) {
			if m.ID.ID == "a" {
				t.Fatalf("randomAlive returned excluded member a")
			}
		}
	}
}

func TestTableNextRoundRobinVisitsEveryAliveMember(t *testing.T) {
	tbl := newTable()
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		tbl.upsert(member(id, Alive, 0))
	}
	self := MemberID{ID: "self", Address: "self:7946"}

	seen := make(map[string]bool)
	for i := 0; i < 30; i++ {
		m, ok := tbl.nextRoundRobin(self)
		if !ok {
			t.Fatalf("nextRoundRobin returned !ok with members present")
		}
		seen[m.ID.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("round robin never visited %s", id)
		}
	}
}

func TestTableGCDead(t *testing.T) {
	tbl := newTable()
	tbl.upsert(member("a", Alive, 0))
	tbl.markDead(MemberID{ID: "a", Address: "a:7946"}, 0)

	tbl.gcDead(0) // retention of 0: everything already dead is eligible immediately
	if _, ok := tbl.get(MemberID{ID: "a", Address: "a:7946"}); ok {
		t.Error("gcDead(0) left a dead member in the table")
	}
}
