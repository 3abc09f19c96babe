package streaming

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024 * 1024 // 1MB
)

// SubscriptionMessage is sent by a client to change its subscriptions
type SubscriptionMessage struct {
	Action    string `json:"action"` // "subscribe" or "unsubscribe"
	SessionID string `json:"session_id"`
}

// ReadPump pumps messages from the WebSocket connection to the hub.
// It runs in a per-connection goroutine and handles subscription changes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var sub SubscriptionMessage
		if err := json.Unmarshal(message, &sub); err != nil {
			c.logger.Debug("ignoring malformed client message", zap.Error(err))
			continue
		}
		c.handleSubscription(&sub)
	}
}

func (c *Client) handleSubscription(sub *SubscriptionMessage) {
	if sub.SessionID == "" {
		return
	}

	switch sub.Action {
	case "subscribe":
		c.mu.Lock()
		// An explicit subscription replaces the default firehose.
		if c.topics[TopicAll] {
			delete(c.topics, TopicAll)
			c.hub.UnsubscribeClient(c, TopicAll)
		}
		c.topics[sub.SessionID] = true
		c.mu.Unlock()
		c.hub.SubscribeClient(c, sub.SessionID)
		c.logger.Debug("client subscribed", zap.String("session_id", sub.SessionID))

	case "unsubscribe":
		c.mu.Lock()
		delete(c.topics, sub.SessionID)
		c.mu.Unlock()
		c.hub.UnsubscribeClient(c, sub.SessionID)
		c.logger.Debug("client unsubscribed", zap.String("session_id", sub.SessionID))

	default:
		c.logger.Debug("unknown subscription action", zap.String("action", sub.Action))
	}
}

// WritePump pumps messages from the hub to the WebSocket connection.
// A ticker keeps the connection alive with pings; queued messages are
// batched into a single writer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into the same writer
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
