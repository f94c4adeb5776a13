package character

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starglow-chat/backend/internal/model/character"
	"github.com/starglow-chat/backend/pkg/utils"
)

// Handler serves the character roster.
type Handler struct {
	characters character.Store
}

// New creates the character handler.
func New(characters character.Store) *Handler {
	return &Handler{characters: characters}
}

// RegisterRoutes mounts the character routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.characters.List())
}
