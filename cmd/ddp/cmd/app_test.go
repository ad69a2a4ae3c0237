package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/tsarna/ddp/pkg/ddp"
	"github.com/tsarna/ddp/pkg/ddp/client"
	"github.com/tsarna/ddp/pkg/ddp/config"
)

const testConfig = `
listen = "127.0.0.1:0"

metrics {}

clock "time" {
  schedule = "@every 1h"
  timezone = "UTC"
}

publication "names" {
  collection = "people"
  documents = {
    "2" = { name = "Grace" }
    "1" = { name = "Ada" }
  }
}
`

func startApp(t *testing.T) *app {
	t.Helper()

	cfg, diags := config.Load([]byte(testConfig), "test.hcl")
	require.False(t, diags.HasErrors(), diags.Error())

	a, err := newApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a
}

func connectClient(t *testing.T, a *app, onData client.DataHandler) *client.Client {
	t.Helper()

	builder := client.NewClient().WithURL(fmt.Sprintf("ws://%s/websocket", a.Addr()))
	if onData != nil {
		builder.WithDataHandler(onData)
	}
	c, err := builder.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAppMethods(t *testing.T) {
	a := startApp(t)
	c := connectClient(t, a, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := c.Call(ctx, "echo", []any{"hello", 1.0})
	require.NoError(t, err)
	assert.Equal(t, []any{"hello", 1.0}, result)

	result, err = c.Call(ctx, "sum", []any{1.0, 2.5})
	require.NoError(t, err)
	assert.Equal(t, 3.5, result)

	_, err = c.Call(ctx, "sum", []any{"one"})
	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "400", serverErr.Code)

	result, err = c.Call(ctx, "sum", map[string]any{"x": 1.0, "y": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, result)

	result, err = c.Call(ctx, "sum", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result)

	_, err = c.Call(ctx, "sum", "x")
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "400", serverErr.Code)

	result, err = c.Call(ctx, "sessions", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result)
}

func TestAppStaticPublication(t *testing.T) {
	a := startApp(t)

	updates := make(chan *ddp.Message, 10)
	c := connectClient(t, a, func(msg *ddp.Message) { updates <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.Subscribe(ctx, "names", nil)
	require.NoError(t, err)

	for _, want := range []struct{ id, name string }{{"1", "Ada"}, {"2", "Grace"}} {
		msg := <-updates
		assert.Equal(t, "added", msg.Msg)
		assert.Equal(t, "people", msg.Collection)
		assert.Equal(t, want.id, msg.ID)
		assert.Equal(t, want.name, msg.Fields["name"])
	}

	require.NoError(t, c.Unsubscribe(ctx, id))
	for _, wantID := range []string{"1", "2"} {
		msg := <-updates
		assert.Equal(t, "removed", msg.Msg)
		assert.Equal(t, wantID, msg.ID)
	}

	_, err = c.Subscribe(ctx, "unknown", nil)
	assert.Error(t, err)
}

func TestAppClockPublication(t *testing.T) {
	a := startApp(t)
	require.Len(t, a.clocks, 1)
	feed := a.clocks[0]

	first := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	feed.mu.Lock()
	feed.now = func() time.Time { return first }
	feed.mu.Unlock()

	updates := make(chan *ddp.Message, 10)
	c := connectClient(t, a, func(msg *ddp.Message) { updates <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Subscribe(ctx, "time", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.subscriberCount())

	msg := <-updates
	assert.Equal(t, "added", msg.Msg)
	assert.Equal(t, "time", msg.Collection)
	assert.Equal(t, clockDocumentID, msg.ID)
	assert.Equal(t, "2024-01-02T03:04:05Z", msg.Fields["time"])

	feed.mu.Lock()
	feed.now = func() time.Time { return first.Add(time.Second) }
	feed.mu.Unlock()
	feed.tick()

	msg = <-updates
	assert.Equal(t, "changed", msg.Msg)
	assert.Equal(t, "2024-01-02T03:04:06Z", msg.Fields["time"])
	assert.Equal(t, float64(first.Add(time.Second).UnixMilli()), msg.Fields["epoch_ms"])

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return feed.subscriberCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestAppServesMetrics(t *testing.T) {
	a := startApp(t)
	c := connectClient(t, a, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Ping(ctx)
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", a.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ddp_sessions_total")
	assert.Contains(t, string(body), "ddp_frames_received_total")
}

func TestSum(t *testing.T) {
	tests := []struct {
		name    string
		params  any
		want    float64
		wantErr string
	}{
		{"array", []any{1.0, 2.5}, 3.5, ""},
		{"object", map[string]any{"x": 1.0, "y": 2.0}, 3, ""},
		{"missing", nil, 0, ""},
		{"empty array", []any{}, 0, ""},
		{"non-number in array", []any{"one"}, 0, "sum takes numbers"},
		{"non-number in object", map[string]any{"x": true}, 0, "sum takes numbers"},
		{"scalar", "x", 0, "sum takes an array or object of numbers"},
		{"number", 4.0, 0, "sum takes an array or object of numbers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, err := sum(tt.params)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
		})
	}
}

func TestCallCommand(t *testing.T) {
	a := startApp(t)
	url := fmt.Sprintf("ws://%s/websocket", a.Addr())

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		t.Cleanup(func() {
			rootCmd.SetOut(nil)
			rootCmd.SetArgs(nil)
			callJQ = ""
		})
		err := rootCmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	out, err := run("call", url, "sum", "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = run("call", url, "echo", `{"user":"alice","tags":["a","b"]}`, "plain", "--jq", ".[0].tags[], .[1], $method")
	require.NoError(t, err)
	assert.Equal(t, "\"a\"\n\"b\"\n\"plain\"\n\"echo\"\n", out)

	_, err = run("call", url, "sum", "x", "--jq", "")
	assert.ErrorContains(t, err, "sum takes numbers")

	_, err = run("call", url, "echo", "--jq", ".[")
	assert.ErrorContains(t, err, "failed to parse jq expression")
}

func TestParseParams(t *testing.T) {
	params := parseParams([]string{"1", `"quoted"`, "bare", `{"a":true}`, "[1,2]", "null"})
	assert.Equal(t, []any{1.0, "quoted", "bare", map[string]any{"a": true}, []any{1.0, 2.0}, nil}, params)
	assert.Empty(t, parseParams(nil))
}

func TestRunFilter(t *testing.T) {
	code, err := compileFilter(`.items[] | select(.n > 1) | {name, method: $method}`)
	require.NoError(t, err)

	input := map[string]any{
		"items": []any{
			map[string]any{"name": "a", "n": 1},
			map[string]any{"name": "b", "n": 2},
			map[string]any{"name": "c", "n": 3},
		},
	}
	out, err := runFilter(context.Background(), code, input, "list")
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"name": "b", "method": "list"},
		map[string]any{"name": "c", "method": "list"},
	}, out)

	code, err = compileFilter(`error("boom")`)
	require.NoError(t, err)
	_, err = runFilter(context.Background(), code, nil, "m")
	assert.ErrorContains(t, err, "boom")

	_, err = compileFilter(`$undefined`)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		debug   bool
		want    zapcore.Level
	}{
		{"", false, false, zap.InfoLevel},
		{"info", false, false, zap.InfoLevel},
		{"WARN", false, false, zap.WarnLevel},
		{"warning", false, false, zap.WarnLevel},
		{"error", false, false, zap.ErrorLevel},
		{"bogus", false, false, zap.InfoLevel},
		{"info", true, false, zap.DebugLevel},
		{"error", true, false, zap.ErrorLevel},
		{"error", false, true, zap.DebugLevel},
	}

	for _, tt := range tests {
		name := strings.Join([]string{tt.level, fmt.Sprint(tt.verbose), fmt.Sprint(tt.debug)}, "/")
		t.Run(name, func(t *testing.T) {
			logger, err := newLogger(tt.level, tt.verbose, tt.debug)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zap.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestCronLoggerFields(t *testing.T) {
	fields := keyValueFields([]any{"entry", 1, 2, "ignored", "dangling"})
	require.Len(t, fields, 1)
	assert.Equal(t, "entry", fields[0].Key)
}
