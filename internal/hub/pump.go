package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// writePump is the only writer on c.conn.
func (h *Hub) writePump(c *Client) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				if c.final != nil {
					_ = h.write(c, websocket.TextMessage, c.final)
				}
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(h.cfg.WriteWait))
				return
			}
			if err := h.write(c, websocket.TextMessage, msg); err != nil {
				return
			}
			c.messagesSent.Add(1)
			c.bytesSent.Add(uint64(len(msg)))
		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (h *Hub) write(c *Client, messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}

// readPump reads client requests until the connection fails, then
// unregisters the client.
func (h *Hub) readPump(c *Client) {
	defer h.wg.Done()
	defer h.unregister(c)

	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client_id", c.id).Msg("read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.handleMessage(c, data)
	}
}
