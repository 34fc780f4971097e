package live

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport limits.
const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	maxMessageSize   = 16 * 1024 * 1024 // audio turns arrive as large base64 frames
)

// Transport is a message-oriented duplex connection. Only the Client
// writes to it; ReadMessage is called from a single goroutine.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	Close(code int, reason string) error
}

// Dialer opens Transports.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens a websocket. A refused upgrade returns a *HandshakeError.
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = handshakeTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsTransport{conn: conn}, nil
}

// wsTransport serializes writes; gorilla allows one concurrent writer.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close sends a close frame, best effort, and closes the socket.
func (t *wsTransport) Close(code int, reason string) error {
	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.writeMu.Unlock()

	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// authHeader builds the credential header for a dial.
func authHeader(ctx context.Context, cfg *Config) (http.Header, error) {
	h := http.Header{}
	if cfg.APIKey != "" {
		h.Set("x-goog-api-key", cfg.APIKey)
		return h, nil
	}
	tok, err := cfg.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return h, nil
}
