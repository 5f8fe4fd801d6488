// Package channel is the client side of the real-time event channel: a
// WebSocket carrying named events in a JSON envelope.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"scuffedchat/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	handshakeWait  = 10 * time.Second
	sendBufferSize = 256
	eventsBuffer   = 256
)

var (
	// ErrClosed is returned by Emit after the connection went away
	ErrClosed = errors.New("channel closed")

	errSendBufferFull = errors.New("channel send buffer full")
)

// Conn is one live channel connection. Emit is safe for concurrent use.
// Events delivers connect first and disconnect last, then is closed.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	events chan models.WebSocketMessage
	done   chan struct{}
	once   sync.Once
}

// Dial opens the channel at wsURL, authenticating with the session cookie
// found in jar.
func Dial(ctx context.Context, wsURL string, jar http.CookieJar) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeWait,
		Jar:              jar,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s (status %d)", wsURL, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", wsURL)
	}

	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		events: make(chan models.WebSocketMessage, eventsBuffer),
		done:   make(chan struct{}),
	}
	c.events <- models.WebSocketMessage{Event: models.EventConnect}

	go c.writePump()
	go c.readPump()

	log.Debug().Str("url", wsURL).Msg("[channel] connected")
	return c, nil
}

// Events returns the inbound event stream
func (c *Conn) Events() <-chan models.WebSocketMessage {
	return c.events
}

// Emit queues a named event for sending
func (c *Conn) Emit(event string, data interface{}) error {
	msg, err := models.NewWebSocketMessage(event, data)
	if err != nil {
		return errors.Wrapf(err, "encode %s", event)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "encode %s", event)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return errSendBufferFull
	}
}

// Close shuts the connection down. The disconnect event is still delivered.
func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump() {
	defer func() {
		c.shutdown()
		c.events <- models.WebSocketMessage{Event: models.EventDisconnect}
		close(c.events)
		log.Debug().Msg("[channel] disconnected")
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("[channel] read error")
			}
			return
		}

		var msg models.WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Event == "" {
			log.Debug().Err(err).Msg("[channel] dropping malformed frame")
			continue
		}
		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("[channel] write failed")
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}
