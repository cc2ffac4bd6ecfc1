package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messagingService/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Server struct {
	router             *chi.Mux
	userService        api.UserService
	chatService        api.ChatService
	verifier           api.TokenVerifier
	maxAttachmentBytes int64
}

func NewServer(router *chi.Mux, userService api.UserService, chatService api.ChatService, verifier api.TokenVerifier, maxAttachmentBytes int64) *Server {
	return &Server{
		router:             router,
		userService:        userService,
		chatService:        chatService,
		verifier:           verifier,
		maxAttachmentBytes: maxAttachmentBytes,
	}
}

func (s *Server) Run(addr string) error {
	hub := api.NewHub()
	go hub.Run()

	// run function that initializes the routes
	r := s.Routes(hub)

	server := &http.Server{Addr: addr, Handler: r}

	// Server run context
	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	// Listen for syscall signals for process to interrupt/quit
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		// Shutdown signal with grace period of 30 seconds
		shutdownCtx, cancelFunc := context.WithTimeout(serverCtx, 30*time.Second)

		// Cancels shutdownCtx if shutdown occurs before timeout
		defer cancelFunc()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal().Msg("graceful shutdown timed out.. forcing exit.")
			}
		}()

		// Websockets are hijacked and not tracked by Shutdown.
		hub.Stop()

		// Trigger graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal().Err(err).Msg("shutdown failed")
		}
		serverStopCtx()
	}()

	log.Info().Str("addr", addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-serverCtx.Done()
	return nil
}
