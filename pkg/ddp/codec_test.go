package ddp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEJSONCodecEncode(t *testing.T) {
	codec := EJSONCodec{}

	t.Run("omits unused fields", func(t *testing.T) {
		data, err := codec.Encode(&Message{Msg: "updated", ID: "1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"msg":"updated","id":"1"}`, string(data))
	})

	t.Run("converts payloads", func(t *testing.T) {
		at := time.UnixMilli(1700000000000)
		data, err := codec.Encode(&Message{
			Msg:        "added",
			ID:         "doc",
			Collection: "events",
			Fields:     map[string]any{"at": at, "raw": []byte("hi")},
		})
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"msg":"added","id":"doc","collection":"events","fields":{"at":{"$date":1700000000000},"raw":{"$binary":"aGk="}}}`,
			string(data))
	})

	t.Run("does not modify the message", func(t *testing.T) {
		fields := map[string]any{"at": time.UnixMilli(0)}
		msg := &Message{Msg: "added", Fields: fields}
		_, err := codec.Encode(msg)
		require.NoError(t, err)
		assert.IsType(t, time.Time{}, msg.Fields["at"])
	})

	t.Run("structured error", func(t *testing.T) {
		data, err := codec.Encode(&Message{Msg: "nosub", ID: "s", Error: NewError("404", "Subscription 'x' not found")})
		require.NoError(t, err)
		assert.JSONEq(t, `{"msg":"nosub","id":"s","error":{"error":"404","reason":"Subscription 'x' not found"}}`, string(data))
	})
}

func TestEJSONCodecDecode(t *testing.T) {
	codec := EJSONCodec{}

	t.Run("method", func(t *testing.T) {
		msg, err := codec.Decode([]byte(`{"msg":"method","id":"1","method":"sum","params":{"x":1,"y":2}}`))
		require.NoError(t, err)
		assert.Equal(t, KindMethod, msg.Kind())
		assert.Equal(t, "sum", msg.Method)
		assert.Equal(t, map[string]any{"x": 1.0, "y": 2.0}, msg.Params)
	})

	t.Run("ejson params", func(t *testing.T) {
		msg, err := codec.Decode([]byte(`{"msg":"method","id":"1","method":"save","params":[{"$date":0}]}`))
		require.NoError(t, err)
		assert.Equal(t, []any{time.UnixMilli(0).UTC()}, msg.Params)
	})

	t.Run("unknown kind", func(t *testing.T) {
		msg, err := codec.Decode([]byte(`{"msg":"hello","id":"z"}`))
		require.NoError(t, err)
		assert.Equal(t, KindUnknown, msg.Kind())
		assert.Equal(t, "hello", msg.Msg)
	})

	t.Run("missing kind", func(t *testing.T) {
		_, err := codec.Decode([]byte(`{"id":"1"}`))
		assert.ErrorIs(t, err, ErrMissingKind)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := codec.Decode([]byte(`{"msg":`))
		assert.Error(t, err)
	})

	t.Run("bad ejson", func(t *testing.T) {
		_, err := codec.Decode([]byte(`{"msg":"added","fields":{"at":{"$date":"x"}}}`))
		assert.Error(t, err)
	})
}
