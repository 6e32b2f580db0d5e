package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"stepflow/pkg/model"
)

// WSMessage is the envelope pushed to connected clients.
type WSMessage struct {
	Type string      `json:"type"` // task_update
	Task interface{} `json:"task,omitempty"`
}

// WSHub maintains client connections keyed by user id and fans task updates
// out to them. It implements orchestrator.Notifier.
type WSHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]map[*websocket.Conn]struct{} // userID -> connections
}

func NewWSHub() *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[string]map[*websocket.Conn]struct{}{},
	}
}

// HandleClientWS upgrades and registers the connection; expects ?user=xxx.
func (h *WSHub) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user required", http.StatusBadRequest)
		return
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed user=%s err=%v", userID, err)
		return
	}
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*websocket.Conn]struct{}{}
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()
	log.Printf("client ws connected: %s", userID)
	go h.readLoop(userID, c)
}

// readLoop drains the connection until close so pings are answered, then
// unregisters it.
func (h *WSHub) readLoop(userID string, c *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if conns, ok := h.clients[userID]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.clients, userID)
			}
		}
		h.mu.Unlock()
		_ = c.Close()
	}()
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

// SendToUser pushes a message to every connection for a user.
func (h *WSHub) SendToUser(userID string, msg WSMessage) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("ws write failed user=%s err=%v", userID, err)
		}
	}
}

// TaskUpdated implements orchestrator.Notifier.
func (h *WSHub) TaskUpdated(task model.Task) {
	if task.UserID == "" {
		return
	}
	h.SendToUser(task.UserID, WSMessage{Type: "task_update", Task: task})
}
