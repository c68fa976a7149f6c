package push_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loophabits/loop-client/internal/adapters/push"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscribeFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// pushServer upgrades one connection, records the subscribe frame and
// the auth header, then serves scripted frames.
type pushServer struct {
	*httptest.Server
	auth      chan string
	subscribe chan subscribeFrame
	conns     chan *websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		auth:      make(chan string, 1),
		subscribe: make(chan subscribeFrame, 1),
		conns:     make(chan *websocket.Conn, 1),
	}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var frame subscribeFrame
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		_ = json.Unmarshal(raw, &frame)
		ps.subscribe <- frame
		ps.conns <- conn
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http")
}

func TestWebsocketTransport_Connect(t *testing.T) {
	t.Run("Success: Sends the bearer token and subscribes to the user topic", func(t *testing.T) {
		srv := newPushServer(t)
		transport := push.NewWebsocketTransport(srv.wsURL(), func() string { return "tok-1" })

		conn, err := transport.Connect(context.Background(), "user-7")
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, "Bearer tok-1", <-srv.auth)
		frame := <-srv.subscribe
		assert.Equal(t, "subscribe", frame.Action)
		assert.Equal(t, "notifications:user:user-7", frame.Topic)
	})

	t.Run("Success: Delivers server frames on the message channel", func(t *testing.T) {
		srv := newPushServer(t)
		transport := push.NewWebsocketTransport(srv.wsURL(), nil)

		conn, err := transport.Connect(context.Background(), "user-7")
		require.NoError(t, err)
		defer conn.Close()

		serverConn := <-srv.conns
		require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte("refresh")))
		require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"notification_id":"n-1"}`)))

		select {
		case raw := <-conn.Messages():
			assert.Equal(t, "refresh", string(raw))
		case <-time.After(time.Second):
			t.Fatal("first frame never arrived")
		}
		select {
		case raw := <-conn.Messages():
			assert.JSONEq(t, `{"notification_id":"n-1"}`, string(raw))
		case <-time.After(time.Second):
			t.Fatal("second frame never arrived")
		}
	})

	t.Run("Success: Channel closes when the server drops the connection", func(t *testing.T) {
		srv := newPushServer(t)
		transport := push.NewWebsocketTransport(srv.wsURL(), nil)

		conn, err := transport.Connect(context.Background(), "user-7")
		require.NoError(t, err)
		defer conn.Close()

		serverConn := <-srv.conns
		serverConn.Close()

		select {
		case _, open := <-conn.Messages():
			assert.False(t, open, "message channel must close on disconnect")
		case <-time.After(time.Second):
			t.Fatal("channel never closed")
		}
	})

	t.Run("Success: Close is idempotent", func(t *testing.T) {
		srv := newPushServer(t)
		transport := push.NewWebsocketTransport(srv.wsURL(), nil)

		conn, err := transport.Connect(context.Background(), "user-7")
		require.NoError(t, err)
		<-srv.conns

		require.NoError(t, conn.Close())
		assert.NoError(t, conn.Close())
	})

	t.Run("Fail: Empty user id is rejected before dialing", func(t *testing.T) {
		transport := push.NewWebsocketTransport("ws://127.0.0.1:1/ws", nil)
		_, err := transport.Connect(context.Background(), "")
		assert.Error(t, err)
	})

	t.Run("Fail: Unreachable endpoint surfaces a dial error", func(t *testing.T) {
		transport := push.NewWebsocketTransport("ws://127.0.0.1:1/ws", nil)
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, err := transport.Connect(ctx, "user-7")
		assert.Error(t, err)
	})
}
