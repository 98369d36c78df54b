package client

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a gorilla connection to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteJSON(v any) error {
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, raw, err := t.conn.ReadMessage()
	return raw, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebSocketDialer returns a Dialer that connects to the relay's /ws
// endpoint. The origin header is required by the server's allowlist.
func WebSocketDialer(url, origin string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

		header := http.Header{}
		if origin != "" {
			header.Set("Origin", origin)
		}

		conn, resp, err := dialer.DialContext(ctx, url, header)
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &wsTransport{conn: conn}, nil
	}
}
