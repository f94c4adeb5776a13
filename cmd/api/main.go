package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/starglow-chat/backend/internal/auth"
	"github.com/starglow-chat/backend/internal/config"
	"github.com/starglow-chat/backend/internal/database"
	"github.com/starglow-chat/backend/internal/feed"
	"github.com/starglow-chat/backend/internal/handler"
	"github.com/starglow-chat/backend/internal/handler/relay"
	"github.com/starglow-chat/backend/internal/model/character"
	"github.com/starglow-chat/backend/internal/service/ai"
	"github.com/starglow-chat/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	events := feed.NewBroker()
	defer events.Close()

	characterStore := character.NewMemoryStore(character.Seed())
	chatService := chat.NewService(db, events)
	authService := auth.NewService(cfg.Auth)

	// Initialize AI service
	var completer relay.Completer
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - check the Ark environment variables")
		} else {
			log.Println("AI service initialized successfully")
			completer = aiService
		}
	} else {
		log.Println("Ark credentials not configured, skipping AI initialization")
	}

	router := handler.NewRouter(authService, characterStore, chatService, events, completer)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Starglow backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
