package swim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tutu-network/swim/internal/telemetry"
)

// pendingProbe tracks an outstanding probe this engine is waiting on
// an Ack for (§3 "Pending probe"). It exists only between send and
// ack-or-timeout.
type pendingProbe struct {
	target    MemberID
	startedAt time.Time
	ackSeen   bool
	ackCh     chan struct{}
}

// Engine is the top-level protocol actor (§4.6): it owns the
// membership table, broadcast queue, pending-probe map and the local
// member's incarnation, and drives the probe loop, receive loop and
// suspicion callbacks.
//
// mu is the single logical serialisation point (§5): it guards the
// pending-probe map, the sequence counter, the local incarnation/
// status, and any compound sequence that must be atomic with those
// (cancelling a suspicion timer together with a mark_alive, applying
// a self-refutation). The table and broadcast queue have their own
// internal mutexes for their own invariants; mu is always acquired
// before calling into them, never the reverse, so there is no lock
// ordering hazard. mu is never held across a transport Send/Receive
// or a sleep — those suspension points always occur after it is
// released (§5 "Suspension points").
type Engine struct {
	local  MemberID
	config Config

	transport Transport
	logger    *zap.Logger

	table     *table
	queue     *broadcastQueue
	diss      *disseminator
	suspicion *suspicionSet
	events    *eventStream
	tracer    *telemetry.Tracer

	mu               sync.Mutex
	seq              uint64
	localIncarnation Incarnation
	localStatus      Status
	pending          map[uint64]*pendingProbe

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	stopped   bool
}

// New constructs an engine around local, config and transport. The
// local member is seeded into the table as Alive at incarnation 0. A
// nil logger is replaced with a no-op one, so embedding this library
// costs nothing when the caller doesn't want logs.
func New(local MemberID, cfg Config, transport Transport, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		local:       local,
		config:      cfg,
		transport:   transport,
		logger:      logger,
		table:       newTable(),
		queue:       newBroadcastQueue(),
		suspicion:   newSuspicionSet(),
		events:      newEventStream(cfg.EventBufferSize),
		tracer:      telemetry.NewTracer(telemetry.DefaultTracerConfig()),
		pending:     make(map[uint64]*pendingProbe),
		localStatus: Alive,
	}
	e.diss = newDisseminator(e.queue, e.table, &e.config)
	e.table.upsert(Member{ID: local, Status: Alive, Incarnation: 0})
	return e
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start launches the probe loop, the receive loop, and (when
// DeadRetention > 0) the dead-member GC sweep. It returns immediately.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	ctx, cancel := context.WithCancel(context.Background())
	e.ctx = ctx
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go e.probeLoop(ctx)
	go e.receiveLoop(ctx)
	if e.config.DeadRetention > 0 {
		e.wg.Add(1)
		go e.gcLoop(ctx)
	}
	e.logger.Info("swim engine started", zap.String("local", e.local.String()))
	return nil
}

// Stop cancels the probe loop, the receive loop, every outstanding
// indirect-probe wait, and every suspicion timer, then closes the
// event stream. After Stop returns, no new events are emitted and no
// suspicion timer fires.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.suspicion.cancelAll()
	e.events.Close()
	e.logger.Info("swim engine stopped", zap.String("local", e.local.String()))
}

func (e *Engine) probeLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.ProtocolPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probeCycle(ctx)
		}
	}
}

func (e *Engine) receiveLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case inc, ok := <-e.transport.Incoming():
			if !ok {
				return
			}
			e.dispatch(ctx, inc)
		}
	}
}

func (e *Engine) gcLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.config.ProtocolPeriod * 10
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.table.gcDead(int64(e.config.DeadRetention))
			telemetry.AliveMembers.Set(float64(e.table.aliveCount()))
			telemetry.BroadcastQueueDepth.Set(float64(e.queue.len()))
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, inc Incoming) {
	switch inc.Message.Type {
	case MsgPing:
		e.handlePing(ctx, inc.Message, inc.Sender)
	case MsgAck:
		e.handleAck(inc.Message, inc.Sender)
	case MsgPingReq:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handlePingReq(ctx, inc.Message, inc.Sender)
		}()
	case MsgNack:
		e.handleNack(inc.Message, inc.Sender)
	}
}

// ─── Sequence numbers ───────────────────────────────────────────────────────

// nextSeq returns the next monotonic, opaque correlation token.
// Wraps silently on overflow (§4.6 "Sequence numbers").
func (e *Engine) nextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

// ─── Probe period (§4.6 "Probe period") ────────────────────────────────────

func (e *Engine) probeCycle(ctx context.Context) {
	target, ok := e.table.nextRoundRobin(e.local)
	if !ok {
		return
	}

	span := e.tracer.StartSpan("probe", map[string]string{"target": target.ID.String()})

	seq := e.nextSeq()
	payload := e.diss.payloadForMessage()
	pp := &pendingProbe{target: target.ID, startedAt: time.Now(), ackCh: make(chan struct{}, 1)}

	e.mu.Lock()
	e.pending[seq] = pp
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, seq)
		e.mu.Unlock()
	}()

	sendErr := e.transport.Send(ctx, Message{Type: MsgPing, Seq: seq, Payload: payload}, target.ID)
	if sendErr != nil {
		e.logger.Debug("direct ping send failed", zap.String("target", target.ID.String()), zap.Error(sendErr))
	} else if e.awaitAck(ctx, pp, e.config.PingTimeout) {
		telemetry.ProbesTotal.WithLabelValues("direct").Inc()
		e.tracer.EndSpan(span, nil)
		return // alive: direct ack
	}

	// Indirect phase: an Ack correlated to this seq counts regardless of
	// which helper relays it, since handleAck matches on the embedded
	// responder (Subject), not the relaying helper's transport address
	// (§4.6 step 4).
	helpers := e.table.randomAlive(e.config.IndirectProbeCount, e.local, target.ID)
	var reqPayload []MembershipUpdate
	if len(helpers) > 0 {
		reqPayload = e.diss.payloadForMessage()
	}
	for _, h := range helpers {
		go func(helper MemberID) {
			if err := e.transport.Send(ctx, Message{Type: MsgPingReq, Seq: seq, Subject: target.ID, Payload: reqPayload}, helper); err != nil {
				e.logger.Debug("ping-req send failed", zap.String("via", helper.String()), zap.Error(err))
			}
		}(h.ID)
	}

	if e.awaitAck(ctx, pp, e.config.PingTimeout) {
		telemetry.ProbesTotal.WithLabelValues("indirect").Inc()
		e.tracer.EndSpan(span, nil)
		return // alive: indirect ack
	}

	telemetry.ProbesTotal.WithLabelValues("failed").Inc()
	e.tracer.EndSpan(span, ErrProbeTimedOut)
	e.markSuspectAndSchedule(target)
	telemetry.AliveMembers.Set(float64(e.table.aliveCount()))
	telemetry.BroadcastQueueDepth.Set(float64(e.queue.len()))
}

func (e *Engine) awaitAck(ctx context.Context, pp *pendingProbe, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-pp.ackCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) markSuspectAndSchedule(target Member) {
	change := e.table.markSuspect(target.ID, target.Incarnation)
	if change == nil {
		return
	}
	e.queue.push(MembershipUpdate{ID: target.ID, Status: Suspect, Incarnation: target.Incarnation})
	e.publishChange(*change)
	telemetry.SuspicionsStarted.Inc()

	n := e.table.size()
	d := suspicionTimeout(n, e.config.SuspicionMultiplier, e.config.ProtocolPeriod)
	e.suspicion.start(target.ID, d, target.Incarnation, e.onSuspicionExpire)
}

// onSuspicionExpire is the suspicion timer's OnExpire callback. It
// re-enters the engine's serialisation point before calling
// mark_dead, resolving the §9 cancellation-race open question: a
// mark_alive that has already committed a higher incarnation makes
// mark_dead's own "incarnation ≤ observed" precondition fail, so a
// stale expiry is a no-op even if cancel() lost the race.
func (e *Engine) onSuspicionExpire(id MemberID, incarnationObserved Incarnation) {
	e.mu.Lock()
	change := e.table.markDead(id, incarnationObserved)
	e.mu.Unlock()
	if change == nil {
		return
	}
	e.queue.push(MembershipUpdate{ID: id, Status: Dead, Incarnation: change.Member.Incarnation})
	e.publishChange(*change)
	telemetry.DeathsTotal.Inc()
}

// ─── Inbound message handling ───────────────────────────────────────────────

// ingestAndReact ingests a piggybacked payload (disseminator.ingest),
// then checks for self-refutation (§4.6 "Self-refutation"): any
// update naming the local member with a non-Alive status and an
// incarnation ≥ the local one means somebody is reporting us
// suspect/dead. We advance our own incarnation past theirs, restore
// our Alive record, and re-enqueue it so the correction propagates.
//
// Both steps run under mu so a concurrent probe-loop suspicion or
// another inbound message can't interleave with the refutation
// sequence.
func (e *Engine) ingestAndReact(payload []MembershipUpdate) {
	e.mu.Lock()
	changes := e.diss.ingest(payload)

	refuted := false
	for _, u := range payload {
		if u.ID.ID == e.local.ID && u.Status != Alive && u.Incarnation >= e.localIncarnation {
			e.localIncarnation = u.Incarnation + 1
			e.localStatus = Alive
			e.table.upsert(Member{ID: e.local, Status: Alive, Incarnation: e.localIncarnation})
			e.queue.push(MembershipUpdate{ID: e.local, Status: Alive, Incarnation: e.localIncarnation})
			refuted = true
			break
		}
	}
	newIncarnation := e.localIncarnation
	e.mu.Unlock()

	for _, c := range changes {
		if c.Member.ID.ID == e.local.ID {
			continue // superseded by the refutation below; never observable externally
		}
		e.publishChange(c)
	}
	if refuted {
		telemetry.RefutationsTotal.Inc()
		e.logger.Warn("self-refutation", zap.Uint64("new_incarnation", newIncarnation))
		e.events.Publish(Event{Kind: EventIncarnationIncremented, Incarnation: newIncarnation})
	}
}

func (e *Engine) handlePing(ctx context.Context, msg Message, sender MemberID) {
	e.ingestAndReact(msg.Payload)
	e.ensureKnown(sender)

	ack := Message{Type: MsgAck, Seq: msg.Seq, Subject: e.local, Payload: e.diss.payloadForMessage()}
	if err := e.transport.Send(ctx, ack, sender); err != nil {
		e.logger.Debug("ack send failed", zap.String("to", sender.String()), zap.Error(err))
	}
}

func (e *Engine) handlePingReq(ctx context.Context, msg Message, requester MemberID) {
	e.ingestAndReact(msg.Payload)
	target := msg.Subject

	seqLocal := e.nextSeq()
	pp := &pendingProbe{target: target, startedAt: time.Now(), ackCh: make(chan struct{}, 1)}
	e.mu.Lock()
	e.pending[seqLocal] = pp
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, seqLocal)
		e.mu.Unlock()
	}()

	acked := false
	if err := e.transport.Send(ctx, Message{Type: MsgPing, Seq: seqLocal, Payload: e.diss.payloadForMessage()}, target); err != nil {
		e.logger.Debug("indirect ping send failed", zap.String("target", target.String()), zap.Error(err))
	} else {
		acked = e.awaitAck(ctx, pp, e.config.PingTimeout)
	}

	var reply Message
	if acked {
		reply = Message{Type: MsgAck, Seq: msg.Seq, Subject: target, Payload: e.diss.payloadForMessage()}
	} else {
		reply = Message{Type: MsgNack, Seq: msg.Seq, Subject: target}
	}
	if err := e.transport.Send(ctx, reply, requester); err != nil {
		e.logger.Debug("ping-req reply send failed", zap.String("to", requester.String()), zap.Error(err))
	}
}

func (e *Engine) handleAck(msg Message, sender MemberID) {
	e.ingestAndReact(msg.Payload)

	e.mu.Lock()
	if pp, ok := e.pending[msg.Seq]; ok {
		// The embedded responder (Subject) is who actually answered the
		// probe, not the transport-physical sender of this datagram: an
		// indirect Ack's physical sender is the relaying helper, while
		// Subject still names the original probed target. Checking
		// Subject instead of sender is correct uniformly for both the
		// direct and indirect phases (§4.6, §9).
		if msg.Subject.ID == pp.target.ID {
			pp.ackSeen = true
			select {
			case pp.ackCh <- struct{}{}:
			default:
			}
		}
	}
	// The responder, not the physical sender, is whose suspicion this Ack
	// resolves: for a relayed indirect Ack the physical sender is the
	// helper, and the helper was never the one suspected.
	responder := msg.Subject
	e.suspicion.cancel(responder)

	var aliveChange *Change
	if cur, ok := e.table.get(responder); ok && cur.Status == Suspect {
		aliveChange = e.table.markAlive(responder, cur.Incarnation+1)
	}
	e.mu.Unlock()

	if aliveChange != nil {
		e.queue.push(MembershipUpdate{ID: responder, Status: Alive, Incarnation: aliveChange.Member.Incarnation})
		e.publishChange(*aliveChange)
	}
}

// handleNack is informational only: it never mutates suspicion or
// table state (§4.6 "Handling inbound Nack").
func (e *Engine) handleNack(msg Message, sender MemberID) {
	e.logger.Debug("nack received", zap.String("from", sender.String()), zap.String("target", msg.Subject.String()))
}

func (e *Engine) ensureKnown(sender MemberID) {
	if _, ok := e.table.get(sender); ok {
		return
	}
	if c := e.table.upsert(Member{ID: sender, Status: Alive, Incarnation: 0}); c != nil {
		e.publishChange(*c)
	}
}

func (e *Engine) publishChange(c Change) {
	switch c.Kind {
	case ChangeJoined:
		e.events.Publish(Event{Kind: EventJoined, Member: c.Member})
	case ChangeStatusChanged:
		switch c.Member.Status {
		case Suspect:
			e.events.Publish(Event{Kind: EventSuspected, Member: c.Member})
		case Dead:
			e.events.Publish(Event{Kind: EventFailed, Member: c.Member})
		case Alive:
			if c.From != Alive {
				e.events.Publish(Event{Kind: EventRecovered, Member: c.Member})
			}
		}
	}
}

// ─── Join / Leave (§4.6) ────────────────────────────────────────────────────

// Join seeds the membership table with addrs and sends each an
// initial Ping. It succeeds if any seed send succeeded.
func (e *Engine) Join(seeds []MemberID) error {
	if len(seeds) == 0 {
		return &JoinError{Reason: ErrEmptySeeds.Error()}
	}

	ctx := e.joinContext()
	var sendErrs error
	anyOK := false
	for _, seed := range seeds {
		if seed.ID == e.local.ID {
			continue
		}
		if c := e.table.upsert(Member{ID: seed, Status: Alive, Incarnation: 0}); c != nil {
			e.publishChange(*c)
		}
		payload := e.diss.payloadForMessage()
		err := e.transport.Send(ctx, Message{Type: MsgPing, Seq: 0, Payload: payload}, seed)
		if err != nil {
			sendErrs = multierr.Append(sendErrs, fmt.Errorf("seed %s: %w", seed, err))
			continue
		}
		anyOK = true
	}

	if !anyOK {
		reason := "all seed sends failed"
		if sendErrs != nil {
			reason = sendErrs.Error()
		}
		return &JoinError{Reason: reason}
	}
	return nil
}

// joinContext returns the engine's running context if Start has been
// called, or a background context otherwise (join() may legitimately
// be called before Start in some embeddings' setup order).
func (e *Engine) joinContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// Leave marks the local member Dead, disseminates that update to a
// small random sample of Alive peers, emits LocalLeft, and stops the
// engine.
func (e *Engine) Leave() error {
	e.mu.Lock()
	e.localStatus = Dead
	inc := e.localIncarnation
	e.mu.Unlock()

	e.table.upsert(Member{ID: e.local, Status: Dead, Incarnation: inc})
	e.queue.push(MembershipUpdate{ID: e.local, Status: Dead, Incarnation: inc})

	payload := e.diss.payloadForMessage()
	ctx := e.joinContext()
	targets := e.table.randomAlive(e.config.LeaveSampleSize, e.local)
	for _, t := range targets {
		msg := Message{Type: MsgPing, Seq: e.nextSeq(), Payload: payload}
		if err := e.transport.Send(ctx, msg, t.ID); err != nil {
			e.logger.Debug("leave notification failed", zap.String("to", t.ID.String()), zap.Error(err))
		}
	}

	e.events.Publish(Event{Kind: EventLocalLeft, LocalID: e.local})
	e.Stop()
	return nil
}

// ─── Accessors (§6.4) ───────────────────────────────────────────────────────

// Members returns a snapshot of every known member.
func (e *Engine) Members() []Member { return e.table.all() }

// AliveCount returns the number of members currently Alive.
func (e *Engine) AliveCount() int { return e.table.aliveCount() }

// Local returns the local member's current (status, incarnation).
func (e *Engine) Local() Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Member{ID: e.local, Status: e.localStatus, Incarnation: e.localIncarnation}
}

// Events returns a subscription to the engine's event stream. Each
// call returns an independent channel; all subscribers observe events
// in the same emission order.
func (e *Engine) Events() <-chan Event { return e.events.Subscribe() }

// RecentSpans returns up to limit of the most recently completed probe
// spans, newest last, for operator inspection.
func (e *Engine) RecentSpans(limit int) []telemetry.Span { return e.tracer.Spans(limit) }
