package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/middleware"
)

const (
	clientBuffer      = 16
	keepAliveInterval = 25 * time.Second
)

// Client is one open change stream.
type Client struct {
	UserID string
	Role   string
	Send   chan cases.Signal
}

// Hub fans case change events out to the reporter and the rescuer of each
// case. Subscribers only get a re-fetch Signal; the full event stays on the
// queue for internal consumers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan cases.ChangeEvent
	register   chan *Client
	unregister chan *Client
	count      chan chan int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan cases.ChangeEvent, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
	}
}

// Run owns the client set until ctx is done, then closes every stream.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			middleware.SSEClients.Set(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			middleware.SSEClients.Set(float64(len(h.clients)))
			log.Printf("[INFO] Client registered - UserID: %s (Total clients: %d)", client.UserID, len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			middleware.SSEClients.Set(float64(len(h.clients)))
			log.Printf("[INFO] Client unregistered - UserID: %s (Total clients: %d)", client.UserID, len(h.clients))

		case event := <-h.broadcast:
			signal := event.Signal()
			for client := range h.clients {
				if !event.Concerns(client.UserID) {
					continue
				}
				select {
				case client.Send <- signal:
				default:
					// A full buffer already holds a pending re-fetch signal.
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Broadcast queues event for the clients it concerns.
func (h *Hub) Broadcast(ctx context.Context, event cases.ChangeEvent) {
	select {
	case h.broadcast <- event:
	case <-ctx.Done():
	}
}

// Clients returns the number of open streams.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
	case <-ctx.Done():
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-ctx.Done():
		return 0
	}
}

func writeEvent(w http.ResponseWriter, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.(http.Flusher).Flush()
	return nil
}

// SubscribeHandler streams change events as Server-Sent Events. The token
// comes from the Authorization header or the token query parameter.
func (h *Hub) SubscribeHandler(jwtSecret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := middleware.BearerToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}
		claims, err := middleware.ParseToken(jwtSecret, tokenString)
		if err != nil {
			log.Printf("[WARN] Invalid token attempt: %v", err)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		if _, ok := w.(http.Flusher); !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		client := &Client{
			UserID: claims.UserID,
			Role:   claims.Role,
			Send:   make(chan cases.Signal, clientBuffer),
		}

		ctx := r.Context()
		select {
		case h.register <- client:
		case <-ctx.Done():
			return
		}
		defer func() {
			// Run may already have closed the stream on shutdown.
			select {
			case h.unregister <- client:
			case <-time.After(time.Second):
			}
		}()

		if err := writeEvent(w, "connected", map[string]string{"message": "Connection established"}); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case signal, ok := <-client.Send:
				if !ok {
					return
				}
				if err := writeEvent(w, signal.Type, signal); err != nil {
					return
				}
			}
		}
	}
}
