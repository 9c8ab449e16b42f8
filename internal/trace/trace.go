// Package trace tags log lines with trace and span ids and times the phases of
// a detection cycle. A span started under WithObserver reports its duration to
// that observer when it ends.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Header and gRPC metadata keys.
const (
	TraceIDKey = "x-trace-id"
	SpanIDKey  = "x-span-id"
)

type ctxKey int

const (
	traceKey ctxKey = iota
	observerKey
)

// Observer receives span durations keyed by span name.
type Observer interface {
	Observe(section string, d time.Duration)
}

// Context identifies one span. ParentSpanID is empty for a root.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New starts a fresh trace.
func New() Context {
	return Context{TraceID: randomHex(16), SpanID: randomHex(8)}
}

// child continues c's trace under a new span id.
func (c Context) child() Context {
	return Context{TraceID: c.TraceID, SpanID: randomHex(8), ParentSpanID: c.SpanID}
}

// remote continues a trace received from a peer. A missing trace id starts a new one.
func remote(traceID, spanID string) Context {
	if traceID == "" {
		return New()
	}
	return Context{TraceID: traceID, SpanID: randomHex(8), ParentSpanID: spanID}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceKey).(Context)
	return tc, ok
}

func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// WithObserver attaches obs to ctx; nil leaves ctx untouched.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	if obs == nil {
		return ctx
	}
	return context.WithValue(ctx, observerKey, obs)
}

// Span times one phase of work.
type Span struct {
	name  string
	tc    Context
	start time.Time
	end   time.Time
	attrs []slog.Attr
	obs   Observer
}

// StartSpan opens a span under the trace in ctx, or a new trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = parent.child()
	}
	obs, _ := ctx.Value(observerKey).(Observer)
	s := &Span{name: name, tc: tc, start: time.Now(), obs: obs}
	return WithContext(ctx, tc), s
}

// End stops the clock. Only the first call counts.
func (s *Span) End() {
	if !s.end.IsZero() {
		return
	}
	s.end = time.Now()
	if s.obs != nil {
		s.obs.Observe(s.name, s.Duration())
	}
}

func (s *Span) Context() Context { return s.tc }

func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// Duration is zero until End.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

func (s *Span) LogValue() slog.Value {
	attrs := append([]slog.Attr{
		slog.String("name", s.name),
		slog.String("span_id", s.tc.SpanID),
		slog.Duration("duration", s.Duration()),
	}, s.attrs...)
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger tagged with the ids in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	l := slog.Default().With("trace_id", tc.TraceID, "span_id", tc.SpanID)
	if tc.ParentSpanID != "" {
		l = l.With("parent_span_id", tc.ParentSpanID)
	}
	return l
}
