package ddp

import (
	"context"
	"fmt"
	"strings"

	"github.com/tsarna/ddp/pkg/ddp/o11y"
	"go.uber.org/zap"
)

// readLoop delivers the session's frames to dispatch one at a time, in
// arrival order, until the connection ends.
func (srv *Server) readLoop(s *Session) {
	defer s.logger.Debug("Session reader stopped")

	for {
		data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.logger.Debug("Session closed locally", zap.Error(err))
			} else {
				s.logger.Debug("Connection ended", zap.Error(err))
			}
			return
		}

		if len(data) == 0 {
			s.logger.Debug("Received empty frame, ignoring")
			continue
		}

		srv.dispatch(s, data)
	}
}

// dispatch decodes one frame and routes it. It never panics and never
// returns an error: bad frames are reported and dropped.
func (srv *Server) dispatch(s *Session, data []byte) {
	msg, err := srv.codec.Decode(data)
	if err != nil {
		decodeErr := &DecodeError{Length: len(data), Err: err}
		s.logger.Warn("Failed to decode inbound frame",
			zap.Error(err),
			zap.Int("data_length", len(data)),
		)
		srv.metrics.RecordDecodeError(s.ctx)
		for _, h := range srv.Handlers.decodeErrorHandlers() {
			srv.invoke(s.ctx, s, "decode_error", func() { h(s, decodeErr) })
		}
		return
	}

	label := metricLabel(msg.Msg)
	srv.metrics.RecordFrameReceived(s.ctx, len(data), label)
	s.logger.Debug("Received DDP message",
		zap.String("kind", msg.Msg),
		zap.String("id", msg.ID),
	)

	ctx := s.ctx
	if srv.tracer != nil {
		var span o11y.Span
		ctx, span = srv.tracer.StartSpan(ctx, "ddp.dispatch "+label)
		span.SetAttributes(o11y.L("ddp.session", s.ID()), o11y.L("ddp.kind", msg.Msg), o11y.L("ddp.id", msg.ID))
		defer span.End()
	}

	done := srv.metrics.RecordDispatch(ctx, label)
	defer done()

	switch kind := msg.Kind(); kind {
	case KindConnect:
		s.SendEvent(KindConnected.String(), Message{Session: s.ID()})

	case KindPing:
		s.SendEvent(KindPong.String(), Message{ID: msg.ID})

	case KindMethod:
		srv.forward(ctx, s, MethodEvent(msg.Method), msg.ID, msg.Params)

	case KindSub:
		handlers := srv.Handlers.subHandlers()
		if len(handlers) == 0 {
			srv.unhandled(ctx, s, msg.Msg)
			return
		}
		for _, h := range handlers {
			srv.invoke(ctx, s, msg.Msg, func() { h(s, msg.ID, msg.Name, msg.Params) })
		}

	case KindUnsub:
		handlers := srv.Handlers.unsubHandlers()
		if len(handlers) == 0 {
			srv.unhandled(ctx, s, msg.Msg)
			return
		}
		for _, h := range handlers {
			srv.invoke(ctx, s, msg.Msg, func() { h(s, msg.ID) })
		}

	case KindError:
		srv.forward(ctx, s, msg.Msg, msg.ID, msg.Error)

	case KindConnected, KindFailed, KindPong, KindResult, KindUpdated,
		KindReady, KindNosub, KindAdded, KindChanged, KindRemoved:
		// Server-to-client kinds have no meaning inbound; they are treated
		// like any other custom kind.
		srv.forward(ctx, s, msg.Msg, msg.ID, msg.Params)

	case KindUnknown:
		srv.forward(ctx, s, msg.Msg, msg.ID, msg.Params)
	}
}

// forward runs every handler registered for event. With no handlers the
// frame is dropped silently.
func (srv *Server) forward(ctx context.Context, s *Session, event, id string, params any) {
	handlers := srv.Handlers.eventHandlers(event)
	if len(handlers) == 0 {
		srv.unhandled(ctx, s, event)
		return
	}

	for _, h := range handlers {
		srv.invoke(ctx, s, event, func() { h(s, id, params) })
	}
}

func (srv *Server) unhandled(ctx context.Context, s *Session, event string) {
	s.logger.Debug("No handler registered, dropping frame", zap.String("event", event))
	srv.metrics.RecordUnhandled(ctx, metricLabel(event))
}

// invoke runs an application handler, containing any panic to this frame.
func (srv *Server) invoke(ctx context.Context, s *Session, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked",
				zap.String("event", event),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
			srv.metrics.RecordHandlerPanic(ctx, metricLabel(event))
		}
	}()

	fn()
}

// metricLabel maps an event name onto the fixed set of values used as metric
// labels. Event names come from clients, so anything outside the protocol's
// kinds and the lifecycle events is reported as "unknown".
func metricLabel(event string) string {
	switch {
	case strings.HasPrefix(event, methodPrefix):
		return KindMethod.String()
	case event == "decode_error", event == "disconnected":
		return event
	case ParseKind(event) != KindUnknown:
		return event
	default:
		return "unknown"
	}
}
