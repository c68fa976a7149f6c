package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loophabits/loop-client/internal/core/domain"
)

var _ domain.PushTransport = (*WebsocketTransport)(nil)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// WebsocketTransport dials the backend's live channel endpoint and
// subscribes to the caller's per-user topic. It only moves bytes:
// payload interpretation and dedup live in the notifier service.
type WebsocketTransport struct {
	url    string
	token  func() string
	dialer *websocket.Dialer
}

// NewWebsocketTransport builds a transport for the given ws:// or
// wss:// endpoint. token is read at dial time so a refreshed login is
// picked up on reconnect.
func NewWebsocketTransport(url string, token func() string) *WebsocketTransport {
	return &WebsocketTransport{
		url:   strings.TrimSpace(url),
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  32 * 1024,
		},
	}
}

type subscribeFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

func (t *WebsocketTransport) Connect(ctx context.Context, userID string) (domain.PushConn, error) {
	if userID == "" {
		return nil, fmt.Errorf("push: user id is required")
	}

	header := make(map[string][]string)
	if t.token != nil {
		if token := t.token(); token != "" {
			header["Authorization"] = []string{"Bearer " + token}
		}
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push: handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("push: dial %s: %w", t.url, err)
	}

	frame, err := json.Marshal(subscribeFrame{
		Action: "subscribe",
		Topic:  "notifications:user:" + userID,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("push: subscribe failed: %w", err)
	}

	pc := &wsConn{
		conn:     conn,
		messages: make(chan []byte, 16),
	}
	go pc.readLoop()

	return pc, nil
}

type wsConn struct {
	conn      *websocket.Conn
	messages  chan []byte
	closeOnce sync.Once
}

func (c *wsConn) Messages() <-chan []byte {
	return c.messages
}

// readLoop pumps frames into the message channel until the connection
// dies, then closes the channel so the single consumer sees the end of
// the stream.
func (c *wsConn) readLoop() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		c.messages <- data
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = c.conn.Close()
	})
	return err
}
