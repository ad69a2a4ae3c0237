package ddp

import "sync"

// SessionHandler observes session lifecycle (connected, disconnected).
type SessionHandler func(s *Session)

// ReadyHandler is called once the server's transport is listening.
type ReadyHandler func(srv *Server)

// MessageHandler handles a forwarded inbound frame. It is used for methods
// ("method:<name>"), "error" frames and any other kind the dispatcher does
// not interpret itself. The session is the handler's outbound surface.
type MessageHandler func(s *Session, id string, params any)

// SubHandler handles a "sub" frame.
type SubHandler func(s *Session, id, name string, params any)

// UnsubHandler handles an "unsub" frame.
type UnsubHandler func(s *Session, id string)

// DecodeErrorHandler is told about inbound frames that failed to decode.
type DecodeErrorHandler func(s *Session, err error)

const methodPrefix = "method:"

// MethodEvent returns the event name method handlers are registered under.
func MethodEvent(name string) string {
	return methodPrefix + name
}

// Handlers is the registration surface application code binds to. Any number
// of handlers may be registered per event; they run in registration order.
// Registration may happen while the server is running.
type Handlers struct {
	mu           sync.RWMutex
	connected    []SessionHandler
	disconnected []SessionHandler
	ready        []ReadyHandler
	sub          []SubHandler
	unsub        []UnsubHandler
	decodeErrors []DecodeErrorHandler
	events       map[string][]MessageHandler
}

// NewHandlers creates an empty handler set.
func NewHandlers() *Handlers {
	return &Handlers{
		events: make(map[string][]MessageHandler),
	}
}

func (h *Handlers) OnConnected(fn SessionHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, fn)
}

func (h *Handlers) OnDisconnected(fn SessionHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, fn)
}

func (h *Handlers) OnReady(fn ReadyHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, fn)
}

func (h *Handlers) OnSub(fn SubHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sub = append(h.sub, fn)
}

func (h *Handlers) OnUnsub(fn UnsubHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsub = append(h.unsub, fn)
}

func (h *Handlers) OnDecodeError(fn DecodeErrorHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decodeErrors = append(h.decodeErrors, fn)
}

// Method registers fn for calls to the named method.
func (h *Handlers) Method(name string, fn MessageHandler) {
	h.On(MethodEvent(name), fn)
}

// On registers fn under a literal event name such as "error", a custom kind,
// or "method:<name>". Frames the dispatcher answers itself ("connect",
// "ping") and frames with dedicated handlers ("sub", "unsub") are never
// delivered here.
func (h *Handlers) On(event string, fn MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[event] = append(h.events[event], fn)
}

// The accessors below return copies so handlers can register more handlers
// without deadlocking the dispatcher.

func (h *Handlers) connectedHandlers() []SessionHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]SessionHandler(nil), h.connected...)
}

func (h *Handlers) disconnectedHandlers() []SessionHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]SessionHandler(nil), h.disconnected...)
}

func (h *Handlers) readyHandlers() []ReadyHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]ReadyHandler(nil), h.ready...)
}

func (h *Handlers) subHandlers() []SubHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]SubHandler(nil), h.sub...)
}

func (h *Handlers) unsubHandlers() []UnsubHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]UnsubHandler(nil), h.unsub...)
}

func (h *Handlers) decodeErrorHandlers() []DecodeErrorHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]DecodeErrorHandler(nil), h.decodeErrors...)
}

func (h *Handlers) eventHandlers(event string) []MessageHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]MessageHandler(nil), h.events[event]...)
}
