package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pharmapos/terminal/internal/config"
	"github.com/pharmapos/terminal/internal/handler"
	"github.com/pharmapos/terminal/internal/session"
	"github.com/pharmapos/terminal/internal/ws"
)

// New creates a Chi router with all terminal routes wired up.
func New(cfg *config.Config, sessions *session.Manager, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Event stream: one room per sale session
	r.Get("/ws/sales/{sid}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, sessions, w, r)
	})

	saleHandler := handler.NewSaleHandler(sessions)
	r.Route("/sales", saleHandler.RegisterRoutes)

	return r
}
