package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client is one WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool // lower-cased channel names or prefixes ending in *
}

// subscribeMsg manages subscriptions, e.g.
// {"action":"subscribe","channels":["auction:0x..."]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

func channelKey(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			if k := channelKey(ch); k != "" {
				c.subs[k] = true
			}
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, channelKey(ch))
		}
	}
}

// isSubscribed matches channel exactly or against a "prefix*" entry,
// ignoring hex case.
func (c *client) isSubscribed(channel string) bool {
	key := channelKey(channel)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[key] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// queueStatus pushes the hub_status frame; it must run before the client
// is registered.
func (c *client) queueStatus(replayed int) {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	msg, err := encodeStatus(c.hub.mode, uptime, replayed)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump consumes subscription messages until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.handleSubscription(msg)
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
