// Package relay implements the streaming chat endpoint: it persists
// the caller's message, opens a streaming completion, and re-emits
// tokens as newline-delimited JSON events while assembling the
// assistant's reply for persistence.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starglow-chat/backend/internal/auth"
	"github.com/starglow-chat/backend/internal/model/character"
	"github.com/starglow-chat/backend/internal/model/chat"
	chatservice "github.com/starglow-chat/backend/internal/service/chat"
	"github.com/starglow-chat/backend/pkg/utils"
)

// historyWindow bounds the prompt to the most recent turns; older
// context is dropped silently, not summarized.
const historyWindow = 12

// Completer is the streaming completion provider. Implemented by
// ai.Service; faked in tests.
type Completer interface {
	Stream(ctx context.Context, char character.Character, messages []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// Handler orchestrates one send/stream cycle.
type Handler struct {
	completer  Completer // nil when the provider is not configured
	chatSvc    *chatservice.Service
	characters character.Store
}

// New creates the relay handler.
func New(completer Completer, chatSvc *chatservice.Service, characters character.Store) *Handler {
	return &Handler{
		completer:  completer,
		chatSvc:    chatSvc,
		characters: characters,
	}
}

// RegisterRoutes mounts the relay endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

type sendRequest struct {
	Message       string `json:"message"`
	SessionID     string `json:"sessionId"`
	CharacterID   string `json:"characterId"`
	UserMessageID string `json:"userMessageId"`
}

// StreamEvent is one line of the response stream.
type StreamEvent struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := auth.UserID(ctx)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.Message == "" || req.SessionID == "" || req.CharacterID == "" || req.UserMessageID == "" {
		utils.RespondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	char, found := h.characters.FindByID(req.CharacterID)
	if !found {
		utils.RespondError(w, http.StatusNotFound, "Character not found")
		return
	}

	session, err := h.chatSvc.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		log.Printf("[relay] session lookup failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if session.UserID != userID {
		utils.RespondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	if h.completer == nil {
		utils.RespondError(w, http.StatusInternalServerError, "Completion provider is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The status line commits here; every later failure is downgraded
	// to an in-stream error event.
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	h.stream(ctx, w, flusher, char, session, req)
}

// stream runs the send cycle inside the committed response stream.
// Exactly one terminal event (done or error) is written, always last.
func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, char character.Character, session chat.Session, req sendRequest) {
	if _, err := h.chatSvc.AppendMessage(ctx, chat.Message{
		ID:        req.UserMessageID,
		SessionID: session.ID,
		Sender:    chat.SenderUser,
		Content:   req.Message,
	}); err != nil {
		log.Printf("[relay] failed to save user message: %v", err)
		h.sendError(w, flusher)
		return
	}

	history, err := h.chatSvc.ListMessages(ctx, session.ID)
	if err != nil {
		log.Printf("[relay] failed to load transcript: %v", err)
		h.sendError(w, flusher)
		return
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	// The assistant message id exists before any token arrives so the
	// client can correlate its streaming entry with the eventual row.
	assistantID := uuid.NewString()

	stream, err := h.completer.Stream(ctx, char, history)
	if err != nil {
		log.Printf("[relay] failed to open completion stream: %v", err)
		h.sendError(w, flusher)
		return
	}
	defer stream.Close()

	var content strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			log.Printf("[relay] completion stream failed: %v", recvErr)
			h.sendError(w, flusher)
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		content.WriteString(chunk.Content)
		h.sendEvent(w, flusher, StreamEvent{
			Type:      "token",
			Token:     chunk.Content,
			MessageID: assistantID,
		})
	}

	if _, err := h.chatSvc.AppendMessage(ctx, chat.Message{
		ID:        assistantID,
		SessionID: session.ID,
		Sender:    chat.SenderAssistant,
		Content:   content.String(),
	}); err != nil {
		log.Printf("[relay] failed to save assistant message: %v", err)
		h.sendError(w, flusher)
		return
	}

	if err := h.chatSvc.TouchSession(ctx, session.ID); err != nil {
		log.Printf("[relay] failed to touch session: %v", err)
		h.sendError(w, flusher)
		return
	}

	h.sendEvent(w, flusher, StreamEvent{Type: "done", MessageID: assistantID})
	log.Printf("[relay] completed response for session=%s character=%s", session.ID, char.ID)
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[relay] failed to marshal stream event: %v", err)
		return
	}

	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		log.Printf("[relay] failed to write stream event: %v", err)
		return
	}
	flusher.Flush()
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher) {
	h.sendEvent(w, flusher, StreamEvent{
		Type:    "error",
		Message: "Failed to generate assistant response.",
	})
}
