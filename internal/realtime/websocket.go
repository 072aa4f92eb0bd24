package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
)

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header

	// ReadTimeout bounds the silence between frames, pings included.
	// Zero means pongWait.
	ReadTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}

	wait := d.ReadTimeout
	if wait <= 0 {
		wait = pongWait
	}

	// Any frame, data or ping, proves the peer alive; a silent peer is
	// treated as gone.
	ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(wait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return &wsConn{ws: ws, wait: wait}, nil
}

type wsConn struct {
	ws   *websocket.Conn
	wait time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.ws.SetReadDeadline(time.Now().Add(c.wait))
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
