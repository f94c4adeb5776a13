package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starglow-chat/backend/internal/auth"
	"github.com/starglow-chat/backend/internal/feed"
	authHandler "github.com/starglow-chat/backend/internal/handler/auth"
	characterHandler "github.com/starglow-chat/backend/internal/handler/character"
	"github.com/starglow-chat/backend/internal/handler/realtime"
	"github.com/starglow-chat/backend/internal/handler/relay"
	sessionHandler "github.com/starglow-chat/backend/internal/handler/session"
	middlewarePkg "github.com/starglow-chat/backend/internal/middleware"
	"github.com/starglow-chat/backend/internal/model/character"
	chatService "github.com/starglow-chat/backend/internal/service/chat"
)

// NewRouter wires HTTP routes to core services. completer is nil when
// no AI provider is configured; the relay then answers sends with a
// provider-unconfigured error instead of streaming.
func NewRouter(authSvc *auth.Service, characters character.Store, chatSvc *chatService.Service, events *feed.Broker, completer relay.Completer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		authHandler.New(authSvc).RegisterRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(authSvc.Middleware)

			characterHandler.New(characters).RegisterRoutes(authed)
			sessionHandler.New(chatSvc, characters).RegisterRoutes(authed)
			relay.New(completer, chatSvc, characters).RegisterRoutes(authed)
			realtime.New(events).RegisterRoutes(authed)
		})
	})

	return r
}
