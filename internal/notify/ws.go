package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/velstore/checkout/internal/auth"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	maxMessageSize = 512
)

// wsConn adapts a gorilla websocket connection to the Conn interface.
// gorilla permits only one concurrent writer, hence the mutex.
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{c: c}
}

func (w *wsConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

// WSHandler upgrades an authenticated request to a websocket, registers the
// connection in the directory, and keeps it until the peer disconnects.
// Clients only receive events; inbound frames are discarded.
func WSHandler(dir Directory) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		lg := zctx.From(r.Context())

		sess, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			lg.Debug("Websocket upgrade failed", zap.Error(err))
			return
		}

		conn := newWSConn(c)
		unregister := dir.Register(sess.UserID, sess.Roles, conn)
		defer func() {
			unregister()
			_ = conn.Close()
		}()

		c.SetReadLimit(maxMessageSize)
		_ = c.SetReadDeadline(time.Now().Add(pongTimeout))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(pongTimeout))
		})

		// Read loop exists only to observe the close.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
			_ = c.SetReadDeadline(time.Now().Add(pongTimeout))
		}
	}
}
