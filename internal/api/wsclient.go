package api

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient is one WebSocket connection. The read and write loops each own
// one direction. done is closed exactly once when either side gives up, and
// the write loop then closes the connection, which ends the read loop.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	done     chan struct{}
	doneOnce sync.Once

	mu       sync.RWMutex
	patterns map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:      hub,
		conn:     conn,
		out:      make(chan []byte, wsQueueLen),
		done:     make(chan struct{}),
		patterns: make(map[string]struct{}),
	}
}

// leave stops both loops. Safe to call from either loop and from the hub.
func (c *wsClient) leave() {
	c.doneOnce.Do(func() { close(c.done) })
}

// enqueue hands data to the write loop without blocking.
func (c *wsClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.out <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *wsClient) subscribe(channels []string) []string {
	added := make([]string, 0, len(channels))
	c.mu.Lock()
	for _, ch := range channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			c.patterns[ch] = struct{}{}
			added = append(added, ch)
		}
	}
	c.mu.Unlock()
	return added
}

func (c *wsClient) unsubscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.patterns, strings.TrimSpace(ch))
	}
	c.mu.Unlock()
}

func (c *wsClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.patterns {
		if channelMatches(p, channel) {
			return true
		}
	}
	return false
}

func (c *wsClient) timeouts() (ping, pong time.Duration) {
	return time.Duration(c.hub.cfg.PingInterval) * time.Second,
		time.Duration(c.hub.cfg.PongTimeout) * time.Second
}

// readLoop handles client frames until the connection fails, then
// unregisters the client.
func (c *wsClient) readLoop() {
	defer c.hub.remove(c)

	ping, pong := c.timeouts()
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ping + pong))
	}

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // as above
		c.dispatch(frame)
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (c *wsClient) writeLoop() {
	ping, pong := c.timeouts()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.leave()
		c.conn.Close() //nolint:errcheck // read loop sees the error and exits
	}()

	write := func(kind int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(pong)); err != nil {
			return err
		}
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			// Best effort: the peer may already be gone.
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck
			return
		case data := <-c.out:
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(frame []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil {
			c.reply(msg.ID, WSTypeError, errorBody("payload must be {\"channels\": [...]}"))
			return
		}
		if msg.Type == WSTypeUnsubscribe {
			c.unsubscribe(sub.Channels)
			c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
			return
		}
		added := c.subscribe(sub.Channels)
		c.hub.logger.Debug("websocket client subscribed", "channels", added)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": added})
	default:
		c.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

func (c *wsClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{Type: kind, ID: id, Timestamp: wsTimestamp(), Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
