package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thencandesigns/tictac/internal/config"
)

// transport wraps a websocket connection behind the broker's Transport
// interface. Writes are serialized through a mutex because the ping
// ticker and the broker's write duty share the connection.
type transport struct {
	conn *websocket.Conn
	cfg  config.WebsocketConfig

	writeMu   sync.Mutex
	pingDone  chan struct{}
	closeOnce sync.Once
}

// newTransport configures read limits, deadlines, and keepalive pings
// on an upgraded connection.
//
// Postcondition: A ping goroutine is running until Close is called.
func newTransport(conn *websocket.Conn, cfg config.WebsocketConfig) *transport {
	t := &transport{
		conn:     conn,
		cfg:      cfg,
		pingDone: make(chan struct{}),
	}

	conn.SetReadLimit(cfg.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	go t.pingLoop()
	return t
}

// ReadMessage blocks for the next text frame from the peer.
func (t *transport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

// WriteMessage sends a text frame, bounded by the configured write timeout.
func (t *transport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears down the connection. Safe to call
// more than once.
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.pingDone)
		t.writeMu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
	})
	return t.conn.Close()
}

// pingLoop keeps the connection alive. The peer must answer each ping
// within the pong timeout or reads will fail.
func (t *transport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.pingDone:
			return
		}
	}
}
