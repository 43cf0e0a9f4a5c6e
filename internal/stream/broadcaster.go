// Package stream broadcasts estimated poses to WebSocket subscribers for
// live trajectory visualisation.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development.
		// In production, you should check against allowed origins.
		return true
	},
}

// PoseUpdate is one message on the wire, sent after every aligned frame.
type PoseUpdate struct {
	Frame     int        `json:"frame"`
	Timestamp float64    `json:"timestamp"`
	Twist     [6]float64 `json:"twist"`
	Status    string     `json:"status"`
}

// Broadcaster serves /poses and fans each PoseUpdate out to all subscribers.
type Broadcaster struct {
	srv *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewBroadcaster creates a broadcaster listening on addr once Start is called.
func NewBroadcaster(addr string) *Broadcaster {
	b := &Broadcaster{conns: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/poses", b.subscribeHandler)
	b.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return b
}

// Start begins serving in a background goroutine.
func (b *Broadcaster) Start() {
	go func() {
		if err := b.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("pose stream server stopped", "error", err)
		}
	}()
}

// Handler returns the subscription handler, used by tests with httptest.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return b.subscribeHandler
}

func (b *Broadcaster) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade connection to WebSocket", "error", err)
		return
	}
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	slog.Debug("pose stream subscriber connected", "remote", conn.RemoteAddr())
}

// Publish sends the update to every subscriber, dropping connections whose
// writes fail.
func (b *Broadcaster) Publish(u PoseUpdate) {
	payload, err := json.Marshal(u)
	if err != nil {
		slog.Error("failed to marshal pose update", "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Debug("dropping pose stream subscriber", "remote", conn.RemoteAddr(), "error", err)
			_ = conn.Close()
			delete(b.conns, conn)
		}
	}
}

// Close disconnects all subscribers and shuts the server down.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	for conn := range b.conns {
		_ = conn.Close()
		delete(b.conns, conn)
	}
	b.mu.Unlock()
	if err := b.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stream: shutting down: %w", err)
	}
	return nil
}
