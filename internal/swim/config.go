package swim

import "time"

// Config controls the SWIM protocol parameters (§6.2).
type Config struct {
	// ProtocolPeriod is the interval between probe rounds.
	ProtocolPeriod time.Duration
	// PingTimeout is the per-probe ack timeout, reused for the
	// indirect-probe wait.
	PingTimeout time.Duration
	// IndirectProbeCount is the number of intermediaries asked for
	// indirect probing.
	IndirectProbeCount int
	// SuspicionMultiplier scales the suspicion timeout:
	// max(1, log(N)) × SuspicionMultiplier × ProtocolPeriod.
	SuspicionMultiplier float64
	// MaxPayloadSize bounds updates piggybacked per message.
	MaxPayloadSize int
	// BaseDisseminationLimit: limit = ceil(base × log(N)).
	BaseDisseminationLimit float64
	// DeadRetention is how long a Dead member is kept before GC.
	// <= 0 disables GC (SPEC_FULL "dead-member garbage collection").
	DeadRetention time.Duration
	// EventBufferSize is the bounded event-stream capacity per
	// subscriber (drop-oldest policy).
	EventBufferSize int
	// LeaveSampleSize is how many random Alive members leave()
	// notifies directly (§4.6 "Leave").
	LeaveSampleSize int
}

// DefaultConfig returns the conservative defaults from §6.2.
func DefaultConfig() Config {
	return Config{
		ProtocolPeriod:         200 * time.Millisecond,
		PingTimeout:            100 * time.Millisecond,
		IndirectProbeCount:     3,
		SuspicionMultiplier:    5.0,
		MaxPayloadSize:         10,
		BaseDisseminationLimit: 3,
		DeadRetention:          24 * time.Hour,
		EventBufferSize:        128,
		LeaveSampleSize:        3,
	}
}
