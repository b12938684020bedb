package surface

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/entrhq/quickbar/pkg/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
	// Outbound frames queued per client before it is dropped.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Request is a command sent over the websocket. ID is echoed in the
// matching Frame.
type Request struct {
	ID      string        `json:"id"`
	Command types.Command `json:"command"`
}

// Frame is one websocket message to a client: either a command reply
// (ID and Result) or a notification (Event).
type Frame struct {
	ID     string       `json:"id,omitempty"`
	Result any          `json:"result,omitempty"`
	Event  *types.Event `json:"event,omitempty"`
}

// DispatchFunc executes a command and returns its reply.
type DispatchFunc func(ctx context.Context, cmd types.Command) any

type client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

// Hub fans notifications out to websocket clients and feeds their
// commands to the dispatcher.
type Hub struct {
	dispatch DispatchFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub that runs client commands through dispatch.
func NewHub(dispatch DispatchFunc) *Hub {
	return &Hub{
		dispatch: dispatch,
		clients:  make(map[*client]struct{}),
	}
}

// Broadcast sends ev to every client. It never blocks; clients whose
// queue is full are disconnected.
func (h *Hub) Broadcast(ev *types.Event) {
	msg, err := json.Marshal(Frame{Event: ev})
	if err != nil {
		log.Errorf("Failed to marshal %s event: %v", ev.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warnf("Dropping slow websocket client %s", c.id)
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.removeLocked(c)
	}
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(c *client) {
	if c.closed {
		return
	}
	c.closed = true
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// ServeWS upgrades the request and serves the connection until the peer
// goes away.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("Failed to upgrade websocket: %v", err)
		return nil
	}

	cl := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	log.Infof("Websocket client %s connected", cl.id)

	go cl.writePump()
	go cl.readPump()
	return nil
}

// queue sends a reply to this client only.
func (c *client) queue(msg []byte) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.hub.removeLocked(c)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		log.Infof("Websocket client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("Websocket client %s read error: %v", c.id, err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			log.Warnf("Malformed websocket request from %s: %v", c.id, err)
			continue
		}

		result := c.hub.dispatch(context.Background(), req.Command)
		reply, err := json.Marshal(Frame{ID: req.ID, Result: result})
		if err != nil {
			log.Errorf("Failed to marshal reply to %s: %v", req.ID, err)
			continue
		}
		c.queue(reply)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
