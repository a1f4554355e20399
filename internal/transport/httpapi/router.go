package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pineos/referral-ledger/internal/transport/httpapi/handler"
	"github.com/pineos/referral-ledger/internal/transport/httpapi/middleware"
	"github.com/pineos/referral-ledger/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger         *logger.Logger
	AllowedOrigins []string
	LedgerHandler  *handler.LedgerHandler
	RuleHandler    *handler.RuleHandler
	HealthHandler  *handler.HealthHandler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit()) // Rate limiting: 100 req/s with burst of 20

	// Service identification and health endpoints
	r.Get("/", handler.GetRoot)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.LedgerHandler != nil {
			r.Route("/ledger", func(r chi.Router) {
				r.Post("/credit", cfg.LedgerHandler.Credit)
				r.Post("/debit", cfg.LedgerHandler.Debit)
				r.Post("/reverse", cfg.LedgerHandler.Reverse)
				r.Get("/entries", cfg.LedgerHandler.GetEntries)
				r.Get("/balance/{user_id}", cfg.LedgerHandler.GetBalance)
			})
		}

		if cfg.RuleHandler != nil {
			r.Route("/rules", func(r chi.Router) {
				r.Post("/", cfg.RuleHandler.CreateRule)
				r.Get("/", cfg.RuleHandler.ListRules)
				r.Post("/evaluate", cfg.RuleHandler.EvaluateEvent)
				r.Get("/{id}", cfg.RuleHandler.GetRule)
			})
		}
	})

	return r
}
