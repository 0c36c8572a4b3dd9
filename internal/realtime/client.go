package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event types exchanged over the push channel.
const (
	EventJoinRoom          = "join_room"
	EventAssignmentRequest = "assignment_request"
	EventOrderUpdate       = "order_update"
	EventOrderEscalated    = "order_escalated"
	EventUpdateLocation    = "update_location"

	// EventReconnected is generated locally after the connection has been
	// re-established and rooms re-joined.
	EventReconnected = "reconnect"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 * 1024
)

type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Source    string          `json:"source,omitempty"`
}

type Handler func(Event)

type Client struct {
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	source         string
	reconnectDelay time.Duration
	send           chan Event
	logger         *logrus.Logger

	mutex     sync.RWMutex
	rooms     []string
	handlers  []Handler
	connected bool
}

func NewClient(url, token string, logger *logrus.Logger) *Client {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Client{
		url:            url,
		header:         header,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		source:         uuid.New().String(),
		reconnectDelay: 2 * time.Second,
		send:           make(chan Event, 256),
		logger:         logger,
	}
}

// SetReconnectDelay changes the pause between connection attempts.
func (c *Client) SetReconnectDelay(d time.Duration) {
	c.reconnectDelay = d
}

func (c *Client) Source() string {
	return c.source
}

func (c *Client) Connected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected
}

// Listen registers a handler for every inbound event. Handlers run on the
// read goroutine and must return quickly.
func (c *Client) Listen(handler Handler) {
	c.mutex.Lock()
	c.handlers = append(c.handlers, handler)
	c.mutex.Unlock()
}

// Join records the room so it is re-joined after every reconnect and asks
// the server to add this connection to it.
func (c *Client) Join(room string) error {
	c.mutex.Lock()
	for _, r := range c.rooms {
		if r == room {
			c.mutex.Unlock()
			return nil
		}
	}
	c.rooms = append(c.rooms, room)
	connected := c.connected
	c.mutex.Unlock()

	if !connected {
		// Joined on connect.
		return nil
	}
	return c.Emit(EventJoinRoom, room)
}

// Emit queues an event for delivery. It never blocks; events are dropped
// when the outbound queue is full.
func (c *Client) Emit(eventType string, payload interface{}) error {
	event, err := c.newEvent(eventType, payload)
	if err != nil {
		return err
	}

	select {
	case c.send <- event:
		return nil
	default:
		c.logger.WithField("type", eventType).Warn("Push channel send queue full, dropping event")
		return fmt.Errorf("send queue full, dropped %s", eventType)
	}
}

// Run keeps a connection open until ctx is cancelled, reconnecting after
// failures.
func (c *Client) Run(ctx context.Context) error {
	first := true
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).WithField("url", c.url).Warn("Failed to connect to push channel")
		} else {
			c.serve(ctx, conn, !first)
			first = false
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, reconnected bool) {
	defer conn.Close()

	// Rooms joined after this point are sent through the queue instead.
	c.mutex.Lock()
	rooms := append([]string(nil), c.rooms...)
	c.connected = true
	c.mutex.Unlock()
	defer c.setConnected(false)

	for _, room := range rooms {
		event, err := c.newEvent(EventJoinRoom, room)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			c.logger.WithError(err).WithField("room", room).Warn("Failed to join room")
			return
		}
	}

	c.logger.WithFields(logrus.Fields{
		"rooms":       rooms,
		"reconnected": reconnected,
	}).Info("Connected to push channel")

	if reconnected {
		c.dispatch(Event{Type: EventReconnected, Timestamp: time.Now().Format(time.RFC3339)})
	}

	done := make(chan struct{})
	go c.writePump(ctx, conn, done)
	c.readPump(conn)
	close(done)
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("Push channel connection lost")
			}
			return
		}

		// Servers may batch several events into one frame, one per line.
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				c.logger.WithError(err).Warn("Failed to decode push event")
				continue
			}
			c.dispatch(event)
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				c.logger.WithError(err).WithField("type", event.Type).Warn("Failed to send push event")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case <-done:
			return
		}
	}
}

func (c *Client) dispatch(event Event) {
	c.mutex.RLock()
	handlers := append([]Handler(nil), c.handlers...)
	c.mutex.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (c *Client) setConnected(connected bool) {
	c.mutex.Lock()
	c.connected = connected
	c.mutex.Unlock()
}

func (c *Client) newEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		Source:    c.source,
	}, nil
}
