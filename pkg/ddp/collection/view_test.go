package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	kind    string
	id      string
	fields  map[string]any
	cleared []string
}

type recordingSender struct {
	collection string
	messages   []sent
}

func (r *recordingSender) SendAdded(id, collection string, fields map[string]any) {
	r.collection = collection
	r.messages = append(r.messages, sent{kind: "added", id: id, fields: fields})
}

func (r *recordingSender) SendChanged(id, collection string, fields map[string]any, cleared []string) {
	r.collection = collection
	r.messages = append(r.messages, sent{kind: "changed", id: id, fields: fields, cleared: cleared})
}

func (r *recordingSender) SendRemoved(id, collection string, fields map[string]any, cleared []string) {
	r.collection = collection
	r.messages = append(r.messages, sent{kind: "removed", id: id})
}

func TestViewSet(t *testing.T) {
	sender := &recordingSender{}
	view := NewView(sender, "people")
	assert.Equal(t, "people", view.Name())

	require.NoError(t, view.Set("1", map[string]any{"name": "Ada", "age": 36.0}))
	require.Len(t, sender.messages, 1)
	assert.Equal(t, sent{kind: "added", id: "1", fields: map[string]any{"name": "Ada", "age": 36.0}}, sender.messages[0])
	assert.Equal(t, "people", sender.collection)

	t.Run("unchanged document sends nothing", func(t *testing.T) {
		require.NoError(t, view.Set("1", map[string]any{"name": "Ada", "age": 36.0}))
		assert.Len(t, sender.messages, 1)
	})

	t.Run("changed field", func(t *testing.T) {
		require.NoError(t, view.Set("1", map[string]any{"name": "Ada", "age": 37.0}))
		require.Len(t, sender.messages, 2)
		assert.Equal(t, sent{kind: "changed", id: "1", fields: map[string]any{"age": 37.0}}, sender.messages[1])
	})

	t.Run("removed and added fields", func(t *testing.T) {
		require.NoError(t, view.Set("1", map[string]any{"name": "Ada", "title": "Countess"}))
		require.Len(t, sender.messages, 3)
		msg := sender.messages[2]
		assert.Equal(t, "changed", msg.kind)
		assert.Equal(t, map[string]any{"title": "Countess"}, msg.fields)
		assert.Equal(t, []string{"age"}, msg.cleared)
	})

	t.Run("only cleared fields", func(t *testing.T) {
		require.NoError(t, view.Set("1", map[string]any{"name": "Ada"}))
		require.Len(t, sender.messages, 4)
		msg := sender.messages[3]
		assert.Nil(t, msg.fields)
		assert.Equal(t, []string{"title"}, msg.cleared)
	})

	doc, ok := view.Get("1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Ada"}, doc)
}

func TestViewCopiesDocuments(t *testing.T) {
	sender := &recordingSender{}
	view := NewView(sender, "c")

	doc := map[string]any{"n": 1.0}
	require.NoError(t, view.Set("x", doc))
	doc["n"] = 2.0

	stored, _ := view.Get("x")
	assert.Equal(t, 1.0, stored["n"])

	stored["n"] = 3.0
	again, _ := view.Get("x")
	assert.Equal(t, 1.0, again["n"])
}

func TestViewDeepCopiesNestedValues(t *testing.T) {
	sender := &recordingSender{}
	view := NewView(sender, "c")

	address := map[string]any{"city": "London"}
	tags := []any{"math"}
	doc := map[string]any{"address": address, "tags": tags}
	require.NoError(t, view.Set("x", doc))

	address["city"] = "Paris"
	tags[0] = "poetry"
	require.NoError(t, view.Set("x", doc))

	require.Len(t, sender.messages, 2)
	assert.Equal(t, map[string]any{"address": map[string]any{"city": "London"}, "tags": []any{"math"}}, sender.messages[0].fields)
	assert.Equal(t, "changed", sender.messages[1].kind)
	assert.Equal(t, map[string]any{"address": map[string]any{"city": "Paris"}, "tags": []any{"poetry"}}, sender.messages[1].fields)

	stored, _ := view.Get("x")
	stored["address"].(map[string]any)["city"] = "Rome"
	again, _ := view.Get("x")
	assert.Equal(t, "Paris", again["address"].(map[string]any)["city"])
}

func TestViewRemoveAndClear(t *testing.T) {
	sender := &recordingSender{}
	view := NewView(sender, "c")

	require.NoError(t, view.Set("b", nil))
	require.NoError(t, view.Set("a", map[string]any{}))
	require.NoError(t, view.Set("c", map[string]any{"v": true}))
	assert.Equal(t, 3, view.Len())
	assert.Equal(t, []string{"a", "b", "c"}, view.IDs())

	assert.True(t, view.Remove("c"))
	assert.False(t, view.Remove("c"))
	assert.Equal(t, sent{kind: "removed", id: "c"}, sender.messages[3])

	sender.messages = nil
	view.Clear()
	assert.Equal(t, []sent{{kind: "removed", id: "a"}, {kind: "removed", id: "b"}}, sender.messages)
	assert.Equal(t, 0, view.Len())

	_, ok := view.Get("a")
	assert.False(t, ok)
}
