package swim

import (
	"encoding/binary"
	"unicode/utf8"
)

// MaxMessageSize is the hard wire-size limit (§4.1): encode and
// decode both reject at this boundary rather than truncating
// silently.
const MaxMessageSize = 65536

// MessageType tags the four wire message kinds (§4.1).
type MessageType uint8

const (
	MsgPing    MessageType = 0x01
	MsgPingReq MessageType = 0x02
	MsgAck     MessageType = 0x03
	MsgNack    MessageType = 0x04
)

func (t MessageType) valid() bool {
	switch t {
	case MsgPing, MsgPingReq, MsgAck, MsgNack:
		return true
	default:
		return false
	}
}

// Message is the wire-level representation of all four message types.
// Subject carries the type-dependent MemberID: PingReq's probe
// target, Ack's responder, Nack's target. It is the zero MemberID for
// Ping. Payload carries the piggybacked gossip for Ping, PingReq and
// Ack; Nack never carries a payload.
type Message struct {
	Type    MessageType
	Seq     uint64
	Subject MemberID
	Payload []MembershipUpdate
}

func hasSubject(t MessageType) bool {
	return t == MsgPingReq || t == MsgAck || t == MsgNack
}

func hasPayload(t MessageType) bool {
	return t == MsgPing || t == MsgPingReq || t == MsgAck
}

// ─── Size accounting ────────────────────────────────────────────────────────

func memberIDSize(m MemberID) int {
	return 2 + len(m.ID) + 2 + len(m.Address)
}

func updateSize(u MembershipUpdate) int {
	return memberIDSize(u.ID) + 1 + 8
}

func payloadSize(updates []MembershipUpdate) int {
	n := 2
	for _, u := range updates {
		n += updateSize(u)
	}
	return n
}

func (m Message) encodedSize() int {
	n := 1 + 8 // type + seq
	if hasSubject(m.Type) {
		n += memberIDSize(m.Subject)
	}
	if hasPayload(m.Type) {
		n += payloadSize(m.Payload)
	}
	return n
}

// ─── Encode ─────────────────────────────────────────────────────────────────

// Encode renders m as a self-contained datagram. The destination
// buffer is allocated exactly once, sized by encodedSize.
func Encode(m Message) ([]byte, error) {
	size := m.encodedSize()
	if size > MaxMessageSize {
		return nil, newCodecError(ErrTooLarge)
	}

	buf := make([]byte, size)
	off := 0

	buf[off] = byte(m.Type)
	off++
	binary.BigEndian.PutUint64(buf[off:], m.Seq)
	off += 8

	if hasSubject(m.Type) {
		off = putMemberID(buf, off, m.Subject)
	}
	if hasPayload(m.Type) {
		off = putPayload(buf, off, m.Payload)
	}
	return buf, nil
}

func putMemberID(buf []byte, off int, m MemberID) int {
	binary.BigEndian.PutUint16(buf[off:], uint16(len(m.ID)))
	off += 2
	off += copy(buf[off:], m.ID)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(m.Address)))
	off += 2
	off += copy(buf[off:], m.Address)
	return off
}

func putPayload(buf []byte, off int, updates []MembershipUpdate) int {
	binary.BigEndian.PutUint16(buf[off:], uint16(len(updates)))
	off += 2
	for _, u := range updates {
		off = putMemberID(buf, off, u.ID)
		buf[off] = byte(u.Status)
		off++
		binary.BigEndian.PutUint64(buf[off:], u.Incarnation)
		off += 8
	}
	return off
}

// ─── Decode ─────────────────────────────────────────────────────────────────

// Decode parses a datagram produced by Encode. decode(encode(m)) == m
// for every valid Message.
func Decode(buf []byte) (Message, error) {
	if len(buf) > MaxMessageSize {
		return Message{}, newCodecError(ErrTooLarge)
	}
	if len(buf) < 9 {
		return Message{}, newCodecError(ErrTruncated)
	}

	var m Message
	off := 0

	t := MessageType(buf[off])
	off++
	if !t.valid() {
		return Message{}, newCodecError(ErrBadType)
	}
	m.Type = t
	m.Seq = binary.BigEndian.Uint64(buf[off:])
	off += 8

	var err error
	if hasSubject(t) {
		m.Subject, off, err = getMemberID(buf, off)
		if err != nil {
			return Message{}, err
		}
	}
	if hasPayload(t) {
		m.Payload, off, err = getPayload(buf, off)
		if err != nil {
			return Message{}, err
		}
	}
	return m, nil
}

func getMemberID(buf []byte, off int) (MemberID, int, error) {
	id, off, err := getString(buf, off)
	if err != nil {
		return MemberID{}, off, err
	}
	addr, off, err := getString(buf, off)
	if err != nil {
		return MemberID{}, off, err
	}
	return MemberID{ID: id, Address: addr}, off, nil
}

func getString(buf []byte, off int) (string, int, error) {
	if off+2 > len(buf) {
		return "", off, newCodecError(ErrTruncated)
	}
	n := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if off+n > len(buf) {
		return "", off, newCodecError(ErrTruncated)
	}
	s := buf[off : off+n]
	if !utf8.Valid(s) {
		return "", off, newCodecError(ErrBadUTF8)
	}
	off += n
	return string(s), off, nil
}

func getPayload(buf []byte, off int) ([]MembershipUpdate, int, error) {
	if off+2 > len(buf) {
		return nil, off, newCodecError(ErrTruncated)
	}
	count := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2

	if count == 0 {
		return nil, off, nil
	}
	updates := make([]MembershipUpdate, 0, count)
	for i := 0; i < count; i++ {
		id, o, err := getMemberID(buf, off)
		off = o
		if err != nil {
			return nil, off, err
		}
		if off+1 > len(buf) {
			return nil, off, newCodecError(ErrTruncated)
		}
		status := Status(buf[off])
		off++
		if status != Alive && status != Suspect && status != Dead {
			return nil, off, newCodecError(ErrBadType)
		}
		if off+8 > len(buf) {
			return nil, off, newCodecError(ErrTruncated)
		}
		inc := binary.BigEndian.Uint64(buf[off:])
		off += 8

		updates = append(updates, MembershipUpdate{ID: id, Status: status, Incarnation: inc})
	}
	return updates, off, nil
}
