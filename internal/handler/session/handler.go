package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starglow-chat/backend/internal/auth"
	"github.com/starglow-chat/backend/internal/model/character"
	"github.com/starglow-chat/backend/internal/model/chat"
	chatservice "github.com/starglow-chat/backend/internal/service/chat"
	"github.com/starglow-chat/backend/pkg/utils"
)

// Handler owns the session routes: creation (explicit or reusing the
// latest session for a character), listing with previews, and the
// transcript snapshot a client seeds its view from.
type Handler struct {
	chatSvc    *chatservice.Service
	characters character.Store
}

// New creates the session handler.
func New(chatSvc *chatservice.Service, characters character.Store) *Handler {
	return &Handler{chatSvc: chatSvc, characters: characters}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
}

type createSessionRequest struct {
	CharacterID string `json:"characterId"`
	Title       string `json:"title"`
	// Reuse returns the user's latest session with the character
	// instead of always creating a fresh one.
	Reuse bool `json:"reuse"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.CharacterID == "" {
		utils.RespondError(w, http.StatusBadRequest, "characterId is required")
		return
	}

	char, found := h.characters.FindByID(req.CharacterID)
	if !found {
		utils.RespondError(w, http.StatusNotFound, "Character not found")
		return
	}

	if req.Reuse {
		existing, err := h.chatSvc.LatestSessionForCharacter(r.Context(), userID, char.ID)
		if err != nil {
			log.Printf("[session] latest session lookup failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load sessions")
			return
		}
		if existing != nil {
			utils.RespondJSON(w, http.StatusOK, existing)
			return
		}
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Chat with %s", char.Name)
	}

	session, err := h.chatSvc.CreateSession(r.Context(), userID, char.ID, title)
	if err != nil {
		log.Printf("[session] create failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

type sessionListing struct {
	Sessions     []chat.Session    `json:"sessions"`
	LastMessages map[string]string `json:"lastMessages"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), userID)
	if err != nil {
		log.Printf("[session] list failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load sessions")
		return
	}

	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.ID)
	}

	previews, err := h.chatSvc.LatestMessageBySession(r.Context(), ids)
	if err != nil {
		log.Printf("[session] previews failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load sessions")
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionListing{
		Sessions:     sessions,
		LastMessages: previews,
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("[session] lookup failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if session.UserID != userID {
		utils.RespondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	messages, err := h.chatSvc.ListMessages(r.Context(), sessionID)
	if err != nil {
		log.Printf("[session] transcript failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}
