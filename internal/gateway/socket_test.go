package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amoylab/gwbridge/pkg/version"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketDialer_SendsUserAgent(t *testing.T) {
	agent := make(chan string, 1)
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent <- r.Header.Get("User-Agent")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, data)
	}))
	defer srv.Close()

	d := &WebsocketDialer{HandshakeTimeout: time.Second, WriteTimeout: time.Second, ClientName: "gateway-bridge"}
	conn, err := d.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close(CloseNormal)

	assert.Equal(t, "gateway-bridge/"+version.Get(), <-agent)

	require.NoError(t, conn.WriteMessage([]byte(`{"op":1,"d":null}`)))
	echo, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":1,"d":null}`, string(echo))
}

func TestWebsocketDialer_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	d := &WebsocketDialer{HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), wsURL(srv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

// TestManager_WebsocketResumeFlow runs the manager against a scripted gateway:
// identify, ready, two dispatches, an abrupt drop, then resume on the stored url.
func TestManager_WebsocketResumeFlow(t *testing.T) {
	var upgrader websocket.Upgrader
	var conns atomic.Int32
	received := make(chan *Envelope, 8)

	send := func(c *websocket.Conn, op Opcode, d any, seq int64, name string) {
		raw, _ := json.Marshal(d)
		env := map[string]any{"op": op, "d": json.RawMessage(raw), "s": nil, "t": nil}
		if seq > 0 {
			env["s"] = seq
		}
		if name != "" {
			env["t"] = name
		}
		msg, _ := json.Marshal(env)
		_ = c.WriteMessage(websocket.TextMessage, msg)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		send(c, OpHello, map[string]any{"heartbeat_interval": 45000}, 0, "")
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		env, err := Decode(data)
		if err != nil {
			return
		}
		received <- env

		if n == 1 {
			send(c, OpDispatch, map[string]any{
				"session_id":         "sess-ws",
				"resume_gateway_url": "ws://" + r.Host,
			}, 1, EventReady)
			send(c, OpDispatch, map[string]any{"id": "m1", "content": "hi"}, 2, EventMessageCreate)
			send(c, OpDispatch, map[string]any{"user_id": "u1"}, 3, "TYPING_START")
			// drop without a close frame
			return
		}

		send(c, OpDispatch, nil, 4, EventResumed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := testGatewayConfig()
	cfg.URL = wsURL(srv) + "/?v=10&encoding=json"
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	sink := &recordingSink{}
	m := NewManager(zap.NewNop(), cfg, sink,
		WithRand(func() float64 { return 0.5 }),
		WithBackoff(func(int) time.Duration { return 20 * time.Millisecond }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	next := func() *Envelope {
		select {
		case env := <-received:
			return env
		case <-time.After(3 * time.Second):
			t.Fatal("gateway did not receive a frame")
			return nil
		}
	}

	first := next()
	require.Equal(t, OpIdentify, first.Op)
	var ident IdentifyPayload
	require.NoError(t, json.Unmarshal(first.Data, &ident))
	assert.Equal(t, "bot-token", ident.Token)

	second := next()
	require.Equal(t, OpResume, second.Op)
	var resume ResumePayload
	require.NoError(t, json.Unmarshal(second.Data, &resume))
	assert.Equal(t, "sess-ws", resume.SessionID)
	require.NotNil(t, resume.Sequence)
	assert.Equal(t, int64(3), *resume.Sequence)

	require.Eventually(t, func() bool { return m.State() == StateReady && conns.Load() == 2 },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, m.Attempts(), "RESUMED leaves the attempt counter alone")

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventMessageCreate, events[0].EventName)
	assert.JSONEq(t, `{"id":"m1","content":"hi"}`, string(events[0].Payload))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("manager did not stop")
	}
}
