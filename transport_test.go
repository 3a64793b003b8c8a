package exl2

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal ExLlamaV2 websocket server.
type fakeServer struct {
	*httptest.Server
}

func newFakeServer(t *testing.T, handle func(conn *gorilla.Conn, req map[string]any)) *fakeServer {
	t.Helper()
	upgrader := gorilla.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			handle(conn, req)
		}
	}))
	t.Cleanup(srv.Close)

	return &fakeServer{Server: srv}
}

func (s *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// exl2Handler answers like the real server: echo, estimate_token as word
// count, infer either whole or split into word chunks.
func exl2Handler(conn *gorilla.Conn, req map[string]any) {
	id := req["request_id"]
	action := req["action"]

	switch action {
	case "echo", "stop":
		_ = conn.WriteJSON(map[string]any{"action": action, "request_id": id})
	case "estimate_token":
		text, _ := req["text"].(string)
		_ = conn.WriteJSON(map[string]any{
			"action":     action,
			"request_id": id,
			"num_tokens": len(strings.Fields(text)),
		})
	case "infer":
		text, _ := req["text"].(string)
		reply := " Jason and I like Go"
		if stream, _ := req["stream"].(bool); stream {
			for _, word := range strings.SplitAfter(reply, " ")[1:] {
				_ = conn.WriteJSON(map[string]any{
					"action":        "infer",
					"request_id":    id,
					"util_text":     text,
					"response_type": "chunk",
					"chunk":         " " + strings.TrimSpace(word),
				})
			}
		}
		_ = conn.WriteJSON(map[string]any{
			"action":        "infer",
			"request_id":    id,
			"util_text":     text,
			"response_type": "full",
			"chunk":         "",
			"stop_reason":   "num_tokens",
			"response":      reply,
		})
	default:
		_ = conn.WriteJSON(map[string]any{"action": action, "request_id": id, "error": "unknown action"})
	}
}

func TestConnect_EndToEnd(t *testing.T) {
	srv := newFakeServer(t, exl2Handler)
	ctx := testContext(t)

	client, err := Connect(ctx, srv.wsURL())
	require.NoError(t, err)
	defer client.Close(ctx)

	echo, err := client.Echo(ctx)
	require.NoError(t, err)
	tokens, err := client.EstimateToken(ctx, "one two three")
	require.NoError(t, err)
	infer, err := client.Infer(ctx, "My name is", WithMaxNewTokens(50))
	require.NoError(t, err)
	stream, err := client.InferStream(ctx, "My name is")
	require.NoError(t, err)

	resp, err := echo.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionEcho, resp.Action)

	resp, err = tokens.Wait(ctx)
	require.NoError(t, err)
	n, err := resp.TokenCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	resp, err = infer.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, " Jason and I like Go", resp.Response)

	var chunks []string
	for item, err := range stream.Chunks(ctx) {
		require.NoError(t, err)
		if !item.IsFinal() {
			chunks = append(chunks, item.Chunk)
		}
	}
	assert.Equal(t, []string{" Jason", " and", " I", " like", " Go"}, chunks)
	assert.Equal(t, "num_tokens", stream.StopReason())

	assert.Equal(t, 0, client.Pending())
}

func TestConnect_AppliesOptionsOnce(t *testing.T) {
	srv := newFakeServer(t, exl2Handler)
	ctx := testContext(t)

	applied := 0
	counting := func(c *clientConfig) { applied++ }

	client, err := Connect(ctx, srv.wsURL(), counting, WithDialOptions(&DialOptions{}))
	require.NoError(t, err)
	defer client.Close(ctx)

	assert.Equal(t, 1, applied)

	fut, err := client.Echo(ctx)
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	require.NoError(t, err)
}

func TestConnect_DialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := Connect(testContext(t), url)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "dial", connErr.Op)
	assert.Equal(t, url, connErr.URL)
}

func TestConnect_ServerDisconnect(t *testing.T) {
	srv := newFakeServer(t, func(conn *gorilla.Conn, req map[string]any) {
		if req["action"] == "stop" {
			_ = conn.UnderlyingConn().Close()
		}
	})
	ctx := testContext(t)

	client, err := Connect(ctx, srv.wsURL())
	require.NoError(t, err)
	defer client.Close(ctx)

	stream, err := client.InferStream(ctx, "never answered")
	require.NoError(t, err)
	_, err = client.Stop(ctx)
	require.NoError(t, err)

	_, err = stream.Next(ctx)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "read", connErr.Op)
	assert.Equal(t, 0, client.Pending())
	assert.Error(t, client.Err())
}

func TestConnect_ClientClose(t *testing.T) {
	srv := newFakeServer(t, func(conn *gorilla.Conn, req map[string]any) {})
	ctx := testContext(t)

	client, err := Connect(ctx, srv.wsURL())
	require.NoError(t, err)

	fut, err := client.Echo(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Close(ctx))
	require.NoError(t, client.Close(ctx))

	_, err = fut.Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, client.Err())
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:5001", Address("127.0.0.1", 5001))
}
