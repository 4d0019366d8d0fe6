package chat

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"CampusChat/logger"
)

// Client is one live websocket connection owned by this process.
type Client struct {
	ConnID string
	UserID string

	Conn   *websocket.Conn
	Remote net.Addr

	Send chan []byte // per-connection outbound queue

	CreatedAt time.Time

	closeOnce sync.Once
}

func newClient(connID, userID string, conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Client{
		ConnID:    connID,
		UserID:    userID,
		Conn:      conn,
		Remote:    conn.RemoteAddr(),
		Send:      make(chan []byte, sendBuffer),
		CreatedAt: time.Now(),
	}
}

// writePump drains Send onto the socket. One writer per connection; the
// read loop never writes.
func (c *Client) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		// every exit path drops the socket; the read loop unblocks on it
		_ = c.Conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.Send:
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("[ws] write failed conn=" + c.ConnID)
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close shuts the send channel exactly once; the write pump then sends the
// close frame and drops the socket.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Send) })
}
