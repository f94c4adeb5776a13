package auth

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	authservice "github.com/starglow-chat/backend/internal/auth"
	"github.com/starglow-chat/backend/pkg/utils"
)

// Handler exchanges a user identity for a signed session cookie. The
// identity provider itself (passwords, OAuth) is an external
// collaborator; this endpoint only mints the cookie the rest of the
// API authenticates with.
type Handler struct {
	authSvc *authservice.Service
}

// New creates the auth handler.
func New(authSvc *authservice.Service) *Handler {
	return &Handler{authSvc: authSvc}
}

// RegisterRoutes mounts the public auth routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

type loginRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.UserID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	token, err := h.authSvc.IssueToken(req.UserID)
	if err != nil {
		log.Printf("[auth] token issue failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	h.authSvc.SetSessionCookie(w, token)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"userId": req.UserID})
}
