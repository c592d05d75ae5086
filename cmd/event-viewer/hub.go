package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConversionEvent is the union of completed and failed conversion events.
type ConversionEvent struct {
	EventType     string   `json:"eventType"`
	JobID         string   `json:"jobId,omitempty"`
	Timestamp     int64    `json:"timestamp"`
	Filename      string   `json:"filename"`
	Source        string   `json:"source"`
	Transposition string   `json:"transposition,omitempty"`
	Simplified    bool     `json:"simplified,omitempty"`
	NoteCount     int      `json:"noteCount,omitempty"`
	DurationSecs  float64  `json:"durationSeconds,omitempty"`
	TempoBPM      int      `json:"tempoBpm,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Message       string   `json:"message,omitempty"`
	ElapsedMs     int64    `json:"elapsedMs"`
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan ConversionEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan ConversionEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Info().Int("clients", h.count()).Msg("Client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Info().Int("clients", h.count()).Msg("Client disconnected")

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Debug().Err(err).Msg("Write error")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("WebSocket upgrade error")
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}
}
