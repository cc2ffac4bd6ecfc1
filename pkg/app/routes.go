package app

import (
	"messagingService/pkg/api"
	myMiddleware "messagingService/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) Routes(hub *api.Hub) *chi.Mux {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.RequestID)
	r.Use(myMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/chat", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(myMiddleware.Authenticator(s.verifier))
			r.Post("/conversation", s.CreateConversation())
			r.Get("/conversation", s.GetConversations())
			r.Get("/conversation/{conversationId}", s.GetConversation())
			r.Patch("/conversation/{conversationId}", s.UpdateConversation())
			r.Get("/conversation/{conversationId}/messages", s.GetMessages())
			r.Post("/conversation/{conversationId}/message", s.SendMessage())
			r.Post("/conversation/{conversationId}/read", s.MarkConversationAsRead())
			r.Post("/support", s.CreateSupportConversation())
		})

		// The websocket authenticates with its first event.
		r.Get("/ws", s.ServeWs(hub))
	})

	return r
}
