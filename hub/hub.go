// Package hub pushes the session to dashboard clients over WebSocket and
// accepts session commands over REST.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"punch-power/analytics"
	"punch-power/workflow"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// Message types sent to clients.
const (
	TypeChart  = "chart"
	TypeFields = "fields"
	TypeState  = "state"
	TypePunch  = "punch"
)

// Message is the envelope of every frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages connected WebSocket clients and broadcasts to all of them. It
// implements workflow.Presenter, workflow.Display and workflow.Observer, so
// every call must return without blocking.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	fields  map[workflow.Field]string
	state   *workflow.State
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "hub"),
		clients: make(map[*client]struct{}),
		fields:  make(map[workflow.Field]string),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}

	// catch the new client up on the last known state
	if frame, ok := h.encode(TypeFields, h.fieldsLocked()); ok {
		c.send <- frame
	}
	if h.state != nil {
		if frame, ok := h.encode(TypeState, h.state); ok {
			c.send <- frame
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends a message to every client. Slow clients miss the frame.
func (h *Hub) Broadcast(typ string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(typ, data)
}

func (h *Hub) broadcastLocked(typ string, data any) {
	if len(h.clients) == 0 {
		return
	}
	frame, ok := h.encode(typ, data)
	if !ok {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

func (h *Hub) encode(typ string, data any) ([]byte, bool) {
	b, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		h.logger.Error("marshal", "type", typ, "error", err)
		return nil, false
	}
	return b, true
}

func (h *Hub) fieldsLocked() map[workflow.Field]string {
	out := make(map[workflow.Field]string, len(h.fields))
	for k, v := range h.fields {
		out[k] = v
	}
	return out
}

// Update broadcasts the chart series.
func (h *Hub) Update(series map[string][]workflow.Point) {
	h.Broadcast(TypeChart, series)
}

// SetField records a display card and broadcasts the changed field.
func (h *Hub) SetField(f workflow.Field, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fields[f] == value {
		return
	}
	h.fields[f] = value
	h.broadcastLocked(TypeFields, map[workflow.Field]string{f: value})
}

// Fields returns a copy of the display cards.
func (h *Hub) Fields() map[workflow.Field]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fieldsLocked()
}

func (h *Hub) OnPunch(p analytics.PunchEvent) {
	h.Broadcast(TypePunch, p)
}

func (h *Hub) OnState(s workflow.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = &s
	h.broadcastLocked(TypeState, s)
}

// serve pumps frames to conn until the client goes away.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(c)
	h.logger.Info("client connected", "remote", conn.RemoteAddr().String())

	go func() {
		defer func() {
			conn.Close()
			h.logger.Info("client disconnected", "remote", conn.RemoteAddr().String())
		}()
		for frame := range c.send {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// reads only detect disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
}
