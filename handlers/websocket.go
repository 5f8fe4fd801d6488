package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"scuffedchat/middleware"
	"scuffedchat/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client is one connected user
type Client struct {
	Username string
	Conn     *websocket.Conn
	Send     chan []byte
}

type eventHandler func(c *Client, msg models.WebSocketMessage) error

type broadcastPayload struct {
	username string
	message  []byte
}

// Hub maintains the set of active clients, one per username. A second
// connection for the same user replaces the first.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastPayload
	done       chan struct{}
	mutex      sync.RWMutex
	handlers   map[string]eventHandler
}

func newHub(handlers map[string]eventHandler) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastPayload, sendBuffer),
		done:       make(chan struct{}),
		handlers:   handlers,
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			if old, ok := h.clients[client.Username]; ok {
				close(old.Send)
			}
			h.clients[client.Username] = client
			h.mutex.Unlock()
			log.Info().Str("username", client.Username).Msg("[devserver] client connected")
			h.broadcastStatus(client.Username, models.StatusOnline)

		case client := <-h.unregister:
			h.mutex.Lock()
			current, ok := h.clients[client.Username]
			if ok && current == client {
				delete(h.clients, client.Username)
				close(client.Send)
			}
			h.mutex.Unlock()
			if ok && current == client {
				log.Info().Str("username", client.Username).Msg("[devserver] client disconnected")
				h.broadcastStatus(client.Username, models.StatusOffline)
			}

		case payload := <-h.broadcast:
			h.mutex.Lock()
			if client, ok := h.clients[payload.username]; ok {
				h.deliver(client, payload.message)
			}
			h.mutex.Unlock()

		case <-ctx.Done():
			h.mutex.Lock()
			for username, client := range h.clients {
				close(client.Send)
				delete(h.clients, username)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// deliver must be called with the mutex held. A client that cannot keep up
// is dropped.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		close(client.Send)
		delete(h.clients, client.Username)
		log.Warn().Str("username", client.Username).Msg("[devserver] slow client dropped")
	}
}

// broadcastStatus tells every other connected client about a presence change
func (h *Hub) broadcastStatus(username string, status models.Status) {
	data, err := encodeEvent(models.EventStatusChange, models.StatusChange{Username: username, Status: status})
	if err != nil {
		return
	}
	h.mutex.Lock()
	for name, client := range h.clients {
		if name != username {
			h.deliver(client, data)
		}
	}
	h.mutex.Unlock()
}

// Online checks if a user is currently connected
func (h *Hub) Online(username string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[username]
	return ok
}

// SendTo queues an event for a user. Offline users are skipped.
func (h *Hub) SendTo(username, event string, data interface{}) {
	message, err := encodeEvent(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("[devserver] encode event")
		return
	}
	select {
	case h.broadcast <- broadcastPayload{username: username, message: message}:
	case <-h.done:
	}
}

func encodeEvent(event string, data interface{}) ([]byte, error) {
	msg, err := models.NewWebSocketMessage(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// notifyFriends sends an event to every online friend of username
func (s *Server) notifyFriends(username, event string, data interface{}) {
	friends, err := s.store.Friends(username)
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("[devserver] load friends")
		return
	}
	for _, f := range friends {
		if s.hub.Online(f.Username) {
			s.hub.SendTo(f.Username, event, data)
		}
	}
}

// ServeWebSocket upgrades an authenticated request to the real-time channel
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[devserver] websocket upgrade")
		return
	}

	client := &Client{
		Username: user.Username,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go s.readPump(client)
}

func (s *Server) readPump(c *Client) {
	defer func() {
		select {
		case s.hub.unregister <- c:
		case <-s.hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("username", c.Username).Msg("[devserver] websocket read")
			}
			return
		}

		var msg models.WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		handle, ok := s.hub.handlers[msg.Event]
		if !ok {
			log.Debug().Str("event", msg.Event).Msg("[devserver] unknown event")
			continue
		}
		if err := handle(c, msg); err != nil {
			log.Warn().Err(err).Str("event", msg.Event).Str("username", c.Username).Msg("[devserver] event rejected")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
