package conn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single live duplex socket to the gateway. It is owned
// exclusively by the Manager; no other component reads or writes it.
type Transport interface {
	// ReadMessage blocks for the next frame. It returns *CloseError when
	// the peer closed the socket with a close code.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Transport to a gateway URL.
type Dialer func(ctx context.Context, url string) (Transport, error)

// CloseError reports a peer-initiated close and its WebSocket close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connection closed (%d)", e.Code)
}

const writeTimeout = 10 * time.Second

// DialWebSocket is the default Dialer, backed by gorilla/websocket.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: writeTimeout}
	c, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(1 << 20)
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	t.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return t.conn.Close()
}
