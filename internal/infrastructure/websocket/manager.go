package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agrolink/internal/infrastructure/push"
)

// Client is one connected UI session for a user.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Manager fans notification events out to locally connected UI clients.
// One client per user id; a reconnect replaces the previous session.
type Manager struct {
	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Start runs the manager's main loop in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if previous, ok := m.clients[client.UserID]; ok {
					close(previous.Send)
				}
				m.clients[client.UserID] = client
				m.mutex.Unlock()
				log.Printf("UI client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if current, ok := m.clients[client.UserID]; ok && current == client {
					delete(m.clients, client.UserID)
					close(client.Send)
				}
				m.mutex.Unlock()
				log.Printf("UI client unregistered: %s", client.UserID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// wsEnvelope is the frame sent to UI clients.
type wsEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Notify implements the controller's notification sink: inbound messages on
// inactive conversations surface here and reach the user's open UI session.
func (m *Manager) Notify(userID string, event push.NotificationEvent) {
	payload, err := json.Marshal(wsEnvelope{
		Type:      "notification",
		Data:      event,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Notify: failed to marshal event for %s: %v", userID, err)
		return
	}
	m.SendToUser(userID, payload)
}

// SendToUser delivers a frame to a user's session, if connected. A full send
// buffer drops the client; the UI reconnects and re-fetches.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	client, ok := m.clients[userID]
	m.mutex.RUnlock()

	if !ok {
		return
	}

	select {
	case client.Send <- message:
	default:
		log.Printf("UI client %s send buffer full, dropping connection", userID)
		m.mutex.Lock()
		if current, exists := m.clients[userID]; exists && current == client {
			delete(m.clients, userID)
			close(client.Send)
		}
		m.mutex.Unlock()
	}
}

// ReadPump drains the connection until the client disconnects. The UI socket
// is one-way; inbound frames are ignored.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister <- c
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("UI client %s read error: %v", c.UserID, err)
			}
			break
		}
	}
}

// WritePump sends queued frames to the connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("UI client %s write error: %v", c.UserID, err)
			return
		}
	}
}
