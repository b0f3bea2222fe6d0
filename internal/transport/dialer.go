package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the minimal view of an established duplex channel. It exists so
// tests can substitute an in-memory socket for a real websocket.
type Socket interface {
	// ReadMessage blocks for the next raw message.
	ReadMessage() (string, error)

	// WriteMessage transmits one text message.
	WriteMessage(data []byte) error

	// Close tears the channel down; a blocked ReadMessage returns an error.
	Close() error
}

// Dialer opens Sockets.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Socket, error)
}

// websocketDialer is the production Dialer backed by gorilla/websocket.
type websocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns the default production dialer.
func NewWebsocketDialer() Dialer {
	return &websocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *websocketDialer) DialContext(ctx context.Context, url string) (Socket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &websocketSocket{conn: conn}, nil
}

// websocketSocket adapts *websocket.Conn to Socket. gorilla/websocket does
// not support concurrent writes, so writes are serialized by the caller
// (Send holds no lock, but a Connection has a single writer in practice).
type websocketSocket struct {
	conn *websocket.Conn
}

func (s *websocketSocket) ReadMessage() (string, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *websocketSocket) WriteMessage(data []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *websocketSocket) Close() error {
	// Best-effort close handshake; the deadline keeps teardown bounded.
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
