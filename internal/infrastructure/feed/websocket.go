package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/funding_board/internal/domain"
)

const (
	APIKeyHeader = "X-API-Key"

	writeWait    = 10 * time.Second
	maxFrameSize = 16 << 20

	// Close codes the feed uses to reject a credential.
	closeUnauthorized = 4001
	closeForbidden    = 4003
)

// WSDialer opens feed connections over gorilla/websocket.
type WSDialer struct {
	dialer *websocket.Dialer
}

func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = handshakeTimeout
	d.EnableCompression = true
	return &WSDialer{dialer: &d}
}

func (d *WSDialer) Dial(ctx context.Context, url, credential string) (domain.FeedConn, error) {
	header := http.Header{}
	header.Set(APIKeyHeader, credential)

	c, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake returned %s", domain.ErrAuthFailure, resp.Status)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrTransientConnection, url, err)
	}
	c.SetReadLimit(maxFrameSize)
	return &wsConn{conn: c}, nil
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && (ce.Code == closeUnauthorized || ce.Code == closeForbidden) {
			return nil, fmt.Errorf("%w: server closed with %d %s", domain.ErrAuthFailure, ce.Code, ce.Text)
		}
		return nil, err
	}
	return msg, nil
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
