package ddp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicationRouter(t *testing.T) {
	t.Run("exact name", func(t *testing.T) {
		srv, tr := newTestServer(t)
		router := NewPublicationRouter()
		router.Publish("names", func(sub *Subscription) func() {
			sub.Session.SendAdded("1", "names", map[string]any{"name": "Ada"})
			sub.Ready()
			return nil
		})
		router.Register(srv.Handlers)

		conn, s := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"a","name":"names"}`)

		assert.JSONEq(t, `{"msg":"added","id":"1","collection":"names","fields":{"name":"Ada"}}`, conn.nextRaw(t))
		assert.JSONEq(t, `{"msg":"ready","subs":["a"]}`, conn.nextRaw(t))
		assert.Equal(t, 1, router.ActiveCount(s))
	})

	t.Run("wildcard captures", func(t *testing.T) {
		srv, tr := newTestServer(t)
		router := NewPublicationRouter()

		captured := make(chan *Subscription, 1)
		router.Publish("rooms/+room/messages", func(sub *Subscription) func() {
			captured <- sub
			sub.Ready()
			return nil
		})
		router.Register(srv.Handlers)

		conn, _ := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"r","name":"rooms/lobby/messages","params":[5]}`)
		conn.next(t)

		select {
		case sub := <-captured:
			assert.Equal(t, "r", sub.ID)
			assert.Equal(t, "rooms/lobby/messages", sub.Name)
			assert.Equal(t, []any{5.0}, sub.Params)
			assert.Equal(t, map[string]string{"room": "lobby"}, sub.Fields)
		case <-time.After(2 * time.Second):
			t.Fatal("publication not called")
		}
	})

	t.Run("first matching route wins", func(t *testing.T) {
		srv, tr := newTestServer(t)
		router := NewPublicationRouter()
		router.Publish("feeds/#", func(sub *Subscription) func() {
			sub.Fail("catch-all")
			return nil
		})
		router.Publish("feeds/news", func(sub *Subscription) func() {
			sub.Ready()
			return nil
		})
		router.Register(srv.Handlers)

		conn, _ := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"f","name":"feeds/news"}`)
		assert.JSONEq(t, `{"msg":"nosub","id":"f","error":"catch-all"}`, conn.nextRaw(t))
	})

	t.Run("unknown publication", func(t *testing.T) {
		srv, tr := newTestServer(t)
		NewPublicationRouter().Register(srv.Handlers)

		conn, _ := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"x","name":"missing"}`)
		assert.JSONEq(t,
			`{"msg":"nosub","id":"x","error":{"error":"404","reason":"Subscription 'missing' not found"}}`,
			conn.nextRaw(t))
	})
}

func TestPublicationStop(t *testing.T) {
	t.Run("unsub", func(t *testing.T) {
		srv, tr := newTestServer(t)
		router := NewPublicationRouter()

		var stops atomic.Int32
		router.Publish("ticks", func(sub *Subscription) func() {
			sub.Ready()
			return func() { stops.Add(1) }
		})
		router.Register(srv.Handlers)

		conn, s := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"t","name":"ticks"}`)
		conn.next(t)

		conn.send(t, `{"msg":"unsub","id":"t"}`)
		assert.JSONEq(t, `{"msg":"nosub","id":"t"}`, conn.nextRaw(t))
		assert.Equal(t, int32(1), stops.Load())
		assert.Equal(t, 0, router.ActiveCount(s))

		// Unsubscribing again still answers but stops nothing.
		conn.send(t, `{"msg":"unsub","id":"t"}`)
		assert.JSONEq(t, `{"msg":"nosub","id":"t"}`, conn.nextRaw(t))
		assert.Equal(t, int32(1), stops.Load())
	})

	t.Run("reused id replaces subscription", func(t *testing.T) {
		srv, tr := newTestServer(t)
		router := NewPublicationRouter()

		var stops atomic.Int32
		router.Publish("ticks", func(sub *Subscription) func() {
			sub.Ready()
			return func() { stops.Add(1) }
		})
		router.Register(srv.Handlers)

		conn, s := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"t","name":"ticks"}`)
		conn.next(t)
		conn.send(t, `{"msg":"sub","id":"t","name":"ticks"}`)
		conn.next(t)

		assert.Equal(t, int32(1), stops.Load())
		assert.Equal(t, 1, router.ActiveCount(s))
	})

	t.Run("failed during start", func(t *testing.T) {
		srv, tr := newTestServer(t)
		router := NewPublicationRouter()

		var stops atomic.Int32
		router.Publish("private", func(sub *Subscription) func() {
			sub.Fail(NewError("403", "denied"))
			return func() { stops.Add(1) }
		})
		router.Register(srv.Handlers)

		conn, s := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"p","name":"private"}`)
		assert.JSONEq(t, `{"msg":"nosub","id":"p","error":{"error":"403","reason":"denied"}}`, conn.nextRaw(t))

		// Frames are handled in order, so the sub is done once the pong arrives.
		conn.send(t, `{"msg":"ping","id":"1"}`)
		assert.Equal(t, "pong", conn.next(t)["msg"])
		assert.Equal(t, 0, router.ActiveCount(s))
		assert.Equal(t, int32(1), stops.Load())

		// An unsub for the failed id stops nothing further.
		conn.send(t, `{"msg":"unsub","id":"p"}`)
		assert.JSONEq(t, `{"msg":"nosub","id":"p"}`, conn.nextRaw(t))
		assert.Equal(t, int32(1), stops.Load())
	})

	t.Run("disconnect", func(t *testing.T) {
		srv, tr := newTestServer(t)
		router := NewPublicationRouter()

		var stops atomic.Int32
		router.Publish("ticks/+", func(sub *Subscription) func() {
			sub.Ready()
			return func() { stops.Add(1) }
		})
		router.Register(srv.Handlers)

		conn, s := connectSession(t, srv, tr)
		conn.send(t, `{"msg":"sub","id":"1","name":"ticks/a"}`)
		conn.next(t)
		conn.send(t, `{"msg":"sub","id":"2","name":"ticks/b"}`)
		conn.next(t)
		require.Equal(t, 2, router.ActiveCount(s))

		conn.hangup()
		require.Eventually(t, func() bool { return stops.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 0, router.ActiveCount(s))
	})
}
