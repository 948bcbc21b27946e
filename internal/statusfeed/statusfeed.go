// Package statusfeed streams broker connection state changes to websocket
// clients.
package statusfeed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tiiuae/flightplanservice/internal/types"
)

const (
	sendBuffer   = 8
	writeTimeout = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	inbox    chan types.Message
	done     chan struct{}
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	current types.BridgeState
}

func New(initial types.BridgeState) *Hub {
	return &Hub{
		inbox:    make(chan types.Message, 10),
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*client]struct{}),
		current:  initial,
	}
}

// Receive queues bridge-state messages. Once Run has returned they are
// dropped.
func (h *Hub) Receive(message types.Message) {
	if message.MessageType != types.MessageBridgeState {
		return
	}
	select {
	case h.inbox <- message:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			log.Println("Status feed shutting down")
			h.closeAll()
			return
		case msg := <-h.inbox:
			state, ok := msg.Message.(types.BridgeState)
			if !ok {
				continue
			}
			h.broadcast(state)
		}
	}
}

// ServeHTTP upgrades the request and sends the current state followed by
// every change
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Status feed: websocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	b, _ := json.Marshal(h.current)
	c.send <- b
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)

	// Nothing is expected from clients; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) broadcast(state types.BridgeState) {
	b, err := json.Marshal(state)
	if err != nil {
		log.Printf("Status feed: could not marshal state: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = state
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			log.Printf("Status feed: dropping slow client %s", c.conn.RemoteAddr())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for b := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, found := h.clients[c]; found {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
