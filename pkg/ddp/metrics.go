package ddp

import (
	"context"
	"time"

	"github.com/tsarna/ddp/pkg/ddp/o11y"
)

// SessionMetrics holds the instruments recorded by the server. A nil
// *SessionMetrics is valid and records nothing.
type SessionMetrics struct {
	// Session lifecycle
	activeSessions  o11y.Gauge     // Currently open sessions
	sessionsTotal   o11y.Counter   // Sessions ever opened
	sessionDuration o11y.Histogram // Session lifetime in seconds

	// Frames
	framesReceived o11y.Counter   // Inbound frames by kind
	framesSent     o11y.Counter   // Outbound frames by kind
	frameSize      o11y.Histogram // Frame sizes by direction
	decodeErrors   o11y.Counter   // Inbound frames that failed to decode
	writeErrors    o11y.Counter   // Outbound frames the transport rejected

	// Dispatch
	dispatchDuration o11y.Histogram // Handler run time by kind
	unhandled        o11y.Counter   // Frames with no registered handler
	handlerPanics    o11y.Counter   // Recovered handler panics
}

// NewSessionMetrics creates the server's instruments from provider.
// If the provider is nil, returns nil (no metrics will be collected).
func NewSessionMetrics(provider o11y.MetricsProvider) *SessionMetrics {
	if provider == nil {
		return nil
	}

	return &SessionMetrics{
		activeSessions:  provider.Gauge("ddp_active_sessions"),
		sessionsTotal:   provider.Counter("ddp_sessions_total"),
		sessionDuration: provider.Histogram("ddp_session_duration_seconds"),

		framesReceived: provider.Counter("ddp_frames_received_total"),
		framesSent:     provider.Counter("ddp_frames_sent_total"),
		frameSize:      provider.Histogram("ddp_frame_size_bytes"),
		decodeErrors:   provider.Counter("ddp_decode_errors_total"),
		writeErrors:    provider.Counter("ddp_write_errors_total"),

		dispatchDuration: provider.Histogram("ddp_dispatch_duration_seconds"),
		unhandled:        provider.Counter("ddp_unhandled_frames_total"),
		handlerPanics:    provider.Counter("ddp_handler_panics_total"),
	}
}

// RecordSessionStart counts a newly registered session and updates the active count.
func (m *SessionMetrics) RecordSessionStart(ctx context.Context, active int) {
	if m == nil {
		return
	}
	m.sessionsTotal.Add(ctx, 1)
	m.activeSessions.Set(ctx, float64(active))
}

// RecordSessionEnd records the lifetime of a finished session and updates the active count.
func (m *SessionMetrics) RecordSessionEnd(ctx context.Context, duration time.Duration, active int) {
	if m == nil {
		return
	}
	m.sessionDuration.Record(ctx, duration.Seconds())
	m.activeSessions.Set(ctx, float64(active))
}

func (m *SessionMetrics) RecordFrameReceived(ctx context.Context, sizeBytes int, kind string) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1, o11y.L("kind", kind))
	m.frameSize.Record(ctx, float64(sizeBytes), o11y.L("direction", "received"))
}

func (m *SessionMetrics) RecordFrameSent(ctx context.Context, sizeBytes int, kind string) {
	if m == nil {
		return
	}
	m.framesSent.Add(ctx, 1, o11y.L("kind", kind))
	m.frameSize.Record(ctx, float64(sizeBytes), o11y.L("direction", "sent"))
}

func (m *SessionMetrics) RecordDecodeError(ctx context.Context) {
	if m == nil {
		return
	}
	m.decodeErrors.Add(ctx, 1)
}

func (m *SessionMetrics) RecordWriteError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.writeErrors.Add(ctx, 1, o11y.L("kind", kind))
}

func (m *SessionMetrics) RecordUnhandled(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.unhandled.Add(ctx, 1, o11y.L("kind", kind))
}

func (m *SessionMetrics) RecordHandlerPanic(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.handlerPanics.Add(ctx, 1, o11y.L("kind", kind))
}

// RecordDispatch starts timing a dispatch and returns a function that records completion.
//
//	done := metrics.RecordDispatch(ctx, "method")
//	defer done()
func (m *SessionMetrics) RecordDispatch(ctx context.Context, kind string) func() {
	if m == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		m.dispatchDuration.Record(ctx, time.Since(start).Seconds(), o11y.L("kind", kind))
	}
}
