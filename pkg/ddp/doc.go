// Package ddp implements the server side of DDP, a message-oriented protocol
// for remote procedure calls and live data subscriptions.
//
// A Server accepts connections from a Transport (see the websocket
// subpackage), wraps each one in a Session, and dispatches the decoded
// frames to application handlers:
//
//	srv, err := ddp.NewServerConfig().
//	    WithTransport(listener).
//	    WithLogger(logger).
//	    Build()
//
//	srv.Method("sum", func(s *ddp.Session, id string, params any) {
//	    s.SendResult(id, 3)
//	})
//
//	srv.OnSub(func(s *ddp.Session, id, name string, params any) {
//	    s.SendReady(id)
//	})
//
//	err = srv.Start(ctx)
//
// "connect" and "ping" are answered by the server itself. Every other frame
// is forwarded to the handlers registered for it; frames nobody handles are
// dropped.
package ddp
