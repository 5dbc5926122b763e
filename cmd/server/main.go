package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/pharmapos/terminal/internal/catalog"
	"github.com/pharmapos/terminal/internal/config"
	"github.com/pharmapos/terminal/internal/router"
	"github.com/pharmapos/terminal/internal/session"
	"github.com/pharmapos/terminal/internal/ws"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	hub := ws.NewHub()
	go hub.Run()

	// No client-side timeout on drug lookups: a hung request leaves the
	// row's price/stock unknown, which the sale logic treats as a valid
	// degraded state.
	drugs := catalog.NewClient(cfg.DrugAPIBaseURL, &http.Client{})

	sessions := session.NewManager(drugs, hub, cfg.DefaultTaxRate, cfg.SessionTTL)
	go sessions.Run(context.Background())

	r := router.New(cfg, sessions, hub)

	log.Printf("POS terminal service listening on :%s (drug API at %s)", cfg.Port, cfg.DrugAPIBaseURL)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
