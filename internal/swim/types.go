// Package swim implements the SWIM membership and failure-detection
// protocol: periodic probing, indirect probing, suspicion timeouts,
// incarnation-based conflict resolution, and infection-style gossip
// dissemination of membership changes.
//
// SWIM cycle (every ProtocolPeriod):
//  1. Pick one member round-robin → Ping
//  2. No Ack within PingTimeout → PingReq to k random members
//  3. No indirect Ack → mark Suspect
//  4. After the suspicion deadline → mark Dead
//  5. State changes piggyback on every outgoing Ping/PingReq/Ack
package swim

import "fmt"

// MemberID identifies a peer. Equality and hashing use both fields;
// MemberID values are immutable once constructed.
type MemberID struct {
	ID      string
	Address string
}

// String renders "id@address" for logs and error messages.
func (m MemberID) String() string {
	return fmt.Sprintf("%s@%s", m.ID, m.Address)
}

// Status is a member's failure-detector state, totally ordered by
// severity: Alive < Suspect < Dead.
type Status uint8

const (
	Alive Status = iota
	Suspect
	Dead
)

// Severity returns the total order used for conflict resolution:
// higher value wins at equal incarnation.
func (s Status) Severity() int { return int(s) }

// String renders the status name.
func (s Status) String() string {
	switch s {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Incarnation is a per-member version number. Only the member that
// owns a MemberID may advance its own incarnation; wrap-around on
// overflow is tolerated without crashing, though the comparison is
// not wrap-safe (see spec §8, "Boundary behaviours").
type Incarnation = uint64

// Member is the authoritative (status, incarnation) pair the
// membership table stores for one MemberID.
type Member struct {
	ID          MemberID
	Status      Status
	Incarnation Incarnation
}

// ChangeKind tags the kind of observable mutation Change reports.
type ChangeKind uint8

const (
	// ChangeJoined fires when a MemberID is inserted for the first time.
	ChangeJoined ChangeKind = iota
	// ChangeStatusChanged fires when status differs from the prior record.
	ChangeStatusChanged
)

// Change is emitted by the membership table whenever a record's
// observable state actually changes. Pure incarnation bumps with no
// status transition emit nothing.
type Change struct {
	Kind   ChangeKind
	Member Member
	From   Status // valid only when Kind == ChangeStatusChanged
}

// MembershipUpdate is one gossip record: a member's claimed state
// plus a dissemination counter used only inside the broadcast queue.
// The counter is never transmitted on the wire.
type MembershipUpdate struct {
	ID          MemberID
	Status      Status
	Incarnation Incarnation
	count       int // times this update has been piggybacked so far
}
