package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SpanStatus indicates success/failure of a recorded span.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span is one recorded unit of work: a probe round, a message handler.
type Span struct {
	ID        string
	Operation string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Status    SpanStatus
	Attrs     map[string]string
}

// Tracer is an in-process ring buffer of recent spans. It does not
// wrap an external tracing SDK — the protocol's own event stream
// already carries causally-ordered state transitions, so this exists
// only to let an operator inspect recent probe/message activity.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int
}

// DefaultTracerConfig returns a tracer enabled with a 4096-span ring.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{Enabled: true, MaxSpans: 4096}
}

// NewTracer constructs a Tracer per cfg.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = 4096
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span for operation (e.g. "probe", "ping-req", "ack").
func (t *Tracer) StartSpan(operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}
	return &Span{
		ID:        generateID(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes span and records it, overwriting the oldest entry
// once the ring is full.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent limit spans (all, if limit <= 0).
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of spans currently retained.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}
