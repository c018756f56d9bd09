// Package event — WebSocket hub delivering per-user engine events.
package event

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// envelope is the JSON frame sent to WebSocket clients.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type userConn struct {
	userID string
	conn   *websocket.Conn
}

type userMsg struct {
	userID string
	data   []byte
}

// Hub manages WebSocket connections keyed by user id and implements Sink:
// an emitted event is delivered to every connection of that user.
type Hub struct {
	clients    map[string]map[*websocket.Conn]bool
	deliver    chan userMsg
	register   chan userConn
	unregister chan userConn
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*websocket.Conn]bool),
		deliver:    make(chan userMsg, 256),
		register:   make(chan userConn),
		unregister: make(chan userConn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case uc := <-h.register:
			h.mu.Lock()
			conns, ok := h.clients[uc.userID]
			if !ok {
				conns = make(map[*websocket.Conn]bool)
				h.clients[uc.userID] = conns
			}
			conns[uc.conn] = true
			h.mu.Unlock()
			slog.Info("ws client connected", "user", uc.userID)

		case uc := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[uc.userID]; ok {
				if _, ok := conns[uc.conn]; ok {
					delete(conns, uc.conn)
					uc.conn.Close()
				}
				if len(conns) == 0 {
					delete(h.clients, uc.userID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.deliver:
			h.mu.RLock()
			for conn := range h.clients[msg.userID] {
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients[msg.userID], conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Emit implements Sink. Delivery is best-effort: the frame is dropped if
// the buffer is full so settlement is never blocked on a slow client.
func (h *Hub) Emit(userID, event string, payload any) {
	data, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return
	}
	select {
	case h.deliver <- userMsg{userID: userID, data: data}:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests. The client identifies
// itself with a user_id query parameter; authentication happens in the
// excluded transport layer.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- userConn{userID: userID, conn: conn}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- userConn{userID: userID, conn: conn} }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[userID][conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
