// Package realtime exposes the change feed over WebSocket so every
// connected client of a user observes store mutations as they occur.
package realtime

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/starglow-chat/backend/internal/auth"
	"github.com/starglow-chat/backend/internal/feed"
	"github.com/starglow-chat/backend/pkg/utils"
)

// Handler upgrades feed subscriptions to WebSocket connections.
type Handler struct {
	events   *feed.Broker
	upgrader websocket.Upgrader
}

// New creates the realtime handler.
func New(events *feed.Broker) *Handler {
	return &Handler{
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the realtime endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/realtime", h.handleRealtime)
}

// handleRealtime streams feed events scoped to the caller: session
// table events for the owning user, plus message inserts — all of the
// user's sessions by default, or one session when sessionId is given.
func (h *Handler) handleRealtime(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	filter := func(ev feed.Event) bool {
		if ev.UserID != userID {
			return false
		}
		if ev.Table == feed.TableMessages && sessionID != "" {
			return ev.Message != nil && ev.Message.SessionID == sessionID
		}
		return true
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[realtime] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.events.Subscribe(filter)
	defer sub.Close()

	log.Printf("[realtime] connection opened for user=%s session=%q", userID, sessionID)

	// Reader goroutine notices the peer going away; the writer loop
	// below exits when the subscription or connection closes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[realtime] write failed for user=%s: %v", userID, err)
				return
			}
		case <-done:
			log.Printf("[realtime] connection closed for user=%s", userID)
			return
		case <-r.Context().Done():
			return
		}
	}
}
