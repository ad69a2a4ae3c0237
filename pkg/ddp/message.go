package ddp

// Kind identifies the type of a DDP message. On the wire it is carried as the
// "msg" field string; internally it is a closed enumeration so the dispatcher
// can switch over it exhaustively.
type Kind int

const (
	KindUnknown Kind = iota

	// Client to server
	KindConnect // Open a session (handshake)
	KindMethod  // Remote procedure call
	KindSub     // Subscribe to a named publication
	KindUnsub   // Stop a subscription

	// Server to client
	KindConnected // Handshake reply carrying the session id
	KindFailed    // Handshake refused (version mismatch)
	KindResult    // Method return value
	KindUpdated   // Method side effects complete
	KindReady     // Subscriptions have sent their initial data
	KindNosub     // Subscription stopped or refused
	KindAdded     // Document added to a collection
	KindChanged   // Document fields changed
	KindRemoved   // Document removed from a collection

	// Either direction
	KindPing
	KindPong
	KindError
)

var kindNames = map[Kind]string{
	KindConnect:   "connect",
	KindMethod:    "method",
	KindSub:       "sub",
	KindUnsub:     "unsub",
	KindConnected: "connected",
	KindFailed:    "failed",
	KindResult:    "result",
	KindUpdated:   "updated",
	KindReady:     "ready",
	KindNosub:     "nosub",
	KindAdded:     "added",
	KindChanged:   "changed",
	KindRemoved:   "removed",
	KindPing:      "ping",
	KindPong:      "pong",
	KindError:     "error",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// String returns the wire name of the kind, or "" for KindUnknown.
func (k Kind) String() string {
	return kindNames[k]
}

// ParseKind maps a wire "msg" string to its Kind. Strings outside the
// protocol's vocabulary map to KindUnknown.
func ParseKind(s string) Kind {
	if k, ok := kindsByName[s]; ok {
		return k
	}
	return KindUnknown
}

// Message is the tagged record used for every DDP frame in either direction.
// Which fields are meaningful depends on Msg; unused fields are omitted on
// the wire.
type Message struct {
	Msg string `json:"msg"`
	ID  string `json:"id,omitempty"`

	// connect / connected / failed
	Session string   `json:"session,omitempty"`
	Version string   `json:"version,omitempty"`
	Support []string `json:"support,omitempty"`

	// method / sub
	Method string `json:"method,omitempty"`
	Name   string `json:"name,omitempty"`
	Params any    `json:"params,omitempty"`

	// result / error / nosub
	Result any    `json:"result,omitempty"`
	Error  any    `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	// added / changed / removed
	Collection string         `json:"collection,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Cleared    []string       `json:"cleared,omitempty"`

	// ready
	Subs []string `json:"subs,omitempty"`
}

// Kind returns the parsed kind of the message.
func (m *Message) Kind() Kind {
	return ParseKind(m.Msg)
}

// Error is the conventional structured error payload carried by "error",
// "result" and "nosub" messages.
type Error struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// NewError builds an Error payload with the given code and reason.
func NewError(code, reason string) *Error {
	return &Error{Error: code, Reason: reason}
}
