package swim

import "math"



// disseminator is thin coordination over the broadcast queue (§4.4):
// it draws updates to piggyback outbound, and feeds inbound updates
// back into the table and queue so accepted gossip keeps propagating
// (infection-style dissemination).
type disseminator struct {
	queue  *broadcastQueue
	table  *table
	config *Config
}

func newDisseminator(q *broadcastQueue, t *table, cfg *Config) *disseminator {
	return &disseminator{queue: q, table: t, config: cfg}
}

// disseminationLimit computes ceil(base × log(N)), the per-update
// send budget (§6.2 base_dissemination_limit, §4.4).
func (d *disseminator) disseminationLimit() int {
	n := d.table.size()
	return disseminationLimit(d.config.BaseDisseminationLimit, n)
}

func disseminationLimit(base float64, n int) int {
	limit := int(math.Ceil(base * logFactor(n)))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// payloadForMessage peeks up to MaxPayloadSize updates, bumps their
// counters, drops any that have now reached the dissemination limit,
// and returns them for piggybacking on an outgoing message. An empty
// queue yields an empty payload.
func (d *disseminator) payloadForMessage() []MembershipUpdate {
	picked := d.queue.peek(d.config.MaxPayloadSize)
	if len(picked) == 0 {
		return nil
	}

	ids := make([]MemberID, len(picked))
	for i, u := range picked {
		ids[i] = u.ID
	}
	d.queue.incrementCounters(ids)
	d.queue.removeExpired(d.disseminationLimit())

	return picked
}

// ingest applies each update in payload to the table via upsert; any
// update actually accepted is pushed back onto the broadcast queue so
// it continues to propagate.
//
// Returns the Changes produced by accepted updates, in payload order,
// so the caller (engine) can react to status transitions (e.g.
// self-refutation, cancelling a suspicion timer).
func (d *disseminator) ingest(payload []MembershipUpdate) []Change {
	var changes []Change
	for _, u := range payload {
		change := d.table.upsert(Member{ID: u.ID, Status: u.Status, Incarnation: u.Incarnation})
		if change == nil {
			continue
		}
		d.queue.push(MembershipUpdate{ID: u.ID, Status: u.Status, Incarnation: u.Incarnation})
		changes = append(changes, *change)
	}
	return changes
}
