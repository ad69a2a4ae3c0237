package ddp

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/amir-yaghoubi/mqttpattern"
)

// Subscription is one client's request for a publication.
type Subscription struct {
	Session *Session
	ID      string
	Name    string
	Params  any

	// Fields holds values captured by named wildcards in the publication
	// pattern, e.g. "rooms/+room" matched against "rooms/lobby" gives
	// {"room": "lobby"}.
	Fields map[string]string

	failed atomic.Bool
}

// Ready tells the client the initial data set has been sent.
func (sub *Subscription) Ready() {
	sub.Session.SendReady(sub.ID)
}

// Fail refuses or ends the subscription with an error.
func (sub *Subscription) Fail(err any) {
	sub.failed.Store(true)
	sub.Session.SendNosub(sub.ID, err)
}

// PublicationFunc starts serving sub. It should eventually call sub.Ready or
// sub.Fail. The returned stop function, if not nil, runs when the client
// unsubscribes or disconnects.
type PublicationFunc func(sub *Subscription) (stop func())

type publicationRoute struct {
	pattern string
	exact   bool
	fn      PublicationFunc
}

// PublicationRouter routes "sub" frames to publications by name using
// MQTT-style patterns ("+" matches one segment, "#" the rest, "+name"
// captures a segment). Routes are tried in registration order.
type PublicationRouter struct {
	mu     sync.Mutex
	routes []publicationRoute
	active map[*Session]map[string]func()
}

func NewPublicationRouter() *PublicationRouter {
	return &PublicationRouter{
		active: make(map[*Session]map[string]func()),
	}
}

// Publish registers fn for publication names matching pattern.
func (r *PublicationRouter) Publish(pattern string, fn PublicationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, publicationRoute{
		pattern: pattern,
		exact:   !strings.ContainsAny(pattern, "+#"),
		fn:      fn,
	})
}

// Register installs the router's sub, unsub and disconnect handlers.
func (r *PublicationRouter) Register(h *Handlers) {
	h.OnSub(r.Sub)
	h.OnUnsub(r.Unsub)
	h.OnDisconnected(r.Disconnected)
}

// Sub is a SubHandler.
func (r *PublicationRouter) Sub(s *Session, id, name string, params any) {
	route, fields, ok := r.match(name)
	if !ok {
		s.SendNosub(id, NewError("404", fmt.Sprintf("Subscription '%s' not found", name)))
		return
	}

	// A reused id replaces the earlier subscription.
	r.stop(s, id)

	sub := &Subscription{
		Session: s,
		ID:      id,
		Name:    name,
		Params:  params,
		Fields:  fields,
	}
	stop := route.fn(sub)
	if stop == nil {
		stop = func() {}
	}

	// Failed before returning: the client already has its nosub.
	if sub.failed.Load() {
		stop()
		return
	}

	r.mu.Lock()
	subs, ok := r.active[s]
	if !ok {
		subs = make(map[string]func())
		r.active[s] = subs
	}
	subs[id] = stop
	r.mu.Unlock()
}

// Unsub is an UnsubHandler. The client gets a nosub for id whether or not it
// was active.
func (r *PublicationRouter) Unsub(s *Session, id string) {
	r.stop(s, id)
	s.SendNosub(id, nil)
}

// Disconnected is a SessionHandler that stops every subscription of s.
func (r *PublicationRouter) Disconnected(s *Session) {
	r.mu.Lock()
	subs := r.active[s]
	delete(r.active, s)
	r.mu.Unlock()

	for _, stop := range subs {
		stop()
	}
}

// ActiveCount returns the number of running subscriptions of s.
func (r *PublicationRouter) ActiveCount(s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active[s])
}

func (r *PublicationRouter) stop(s *Session, id string) {
	r.mu.Lock()
	stop, ok := r.active[s][id]
	if ok {
		delete(r.active[s], id)
		if len(r.active[s]) == 0 {
			delete(r.active, s)
		}
	}
	r.mu.Unlock()

	if ok {
		stop()
	}
}

func (r *PublicationRouter) match(name string) (publicationRoute, map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, route := range r.routes {
		if route.exact {
			if route.pattern == name {
				return route, nil, true
			}
			continue
		}
		if mqttpattern.Matches(route.pattern, name) {
			return route, mqttpattern.Extract(route.pattern, name), true
		}
	}

	return publicationRoute{}, nil, false
}
