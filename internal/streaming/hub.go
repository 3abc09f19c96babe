// Package streaming handles WebSocket connections for real-time session
// event delivery: log lines, stats updates, and terminal outcomes.
package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events"
	"github.com/mystorage/mystorage/internal/events/bus"
)

// TopicAll subscribes a client to every event regardless of session.
const TopicAll = "*"

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	conn   *websocket.Conn
	topics map[string]bool // session IDs this client is subscribed to
	send   chan []byte
	hub    *Hub
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewClient creates a new WebSocket client. New clients start subscribed to
// everything; a subscription message narrows the stream.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		topics: map[string]bool{TopicAll: true},
		send:   make(chan []byte, 256),
		hub:    hub,
		logger: log.WithFields(zap.String("client_id", id)),
	}
}

// Hub manages all WebSocket clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients by topic for efficient routing
	topicClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu     sync.RWMutex
	logger *logger.Logger
}

// BroadcastMessage contains an event to broadcast
type BroadcastMessage struct {
	Topic string
	Event *bus.Event
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		topicClients: make(map[string]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *BroadcastMessage, 256),
		logger:       log.WithFields(zap.String("component", "websocket-hub")),
	}
}

// AttachBus forwards session and repository events from the event bus into
// the hub. Handlers hand off to the broadcast channel without blocking the
// publisher.
func (h *Hub) AttachBus(eventBus bus.EventBus) error {
	handler := func(ctx context.Context, event *bus.Event) error {
		topic := TopicAll
		if sessionID, ok := event.Data["session_id"].(string); ok && sessionID != "" {
			topic = sessionID
		}
		select {
		case h.broadcast <- &BroadcastMessage{Topic: topic, Event: event}:
		default:
			h.logger.Warn("broadcast queue full, dropping event",
				zap.String("event_type", event.Type))
		}
		return nil
	}

	if _, err := eventBus.Subscribe(events.SubjectSessions, handler); err != nil {
		return err
	}
	if _, err := eventBus.Subscribe("repository.*", handler); err != nil {
		return err
	}
	return nil
}

// Run starts the hub processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.topicClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			for topic := range client.topics {
				h.subscribeLocked(client, topic)
			}
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropClientLocked(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("client_id", client.ID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver fans an event out to subscribers of its topic and to wildcard
// subscribers. Clients that cannot keep up are dropped.
func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, 4)
	for client := range h.topicClients[msg.Topic] {
		targets = append(targets, client)
	}
	if msg.Topic != TopicAll {
		for client := range h.topicClients[TopicAll] {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(msg.Event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	for _, client := range targets {
		select {
		case client.send <- data:
		default:
			// Send buffer full, drop the client.
			h.mu.Lock()
			h.dropClientLocked(client)
			h.mu.Unlock()
		}
	}
}

// dropClientLocked removes a client from tracking and closes its send
// channel. Caller holds h.mu.
func (h *Hub) dropClientLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	client.mu.RLock()
	topics := make([]string, 0, len(client.topics))
	for topic := range client.topics {
		topics = append(topics, topic)
	}
	client.mu.RUnlock()

	for _, topic := range topics {
		if clients, ok := h.topicClients[topic]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.topicClients, topic)
			}
		}
	}
}

func (h *Hub) subscribeLocked(client *Client, topic string) {
	if _, ok := h.topicClients[topic]; !ok {
		h.topicClients[topic] = make(map[*Client]bool)
	}
	h.topicClients[topic][client] = true
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues an event for delivery to a topic's subscribers
func (h *Hub) Broadcast(topic string, event *bus.Event) {
	h.broadcast <- &BroadcastMessage{Topic: topic, Event: event}
}

// SubscribeClient subscribes a client to a topic
func (h *Hub) SubscribeClient(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribeLocked(client, topic)
}

// UnsubscribeClient unsubscribes a client from a topic
func (h *Hub) UnsubscribeClient(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.topicClients[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topicClients, topic)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to a topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.topicClients[topic]; ok {
		return len(clients)
	}
	return 0
}
