package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"twocheck/core/protocol"
	"twocheck/gateway/middleware"
)

// Config assembles the gateway's middleware configuration.
type Config struct {
	Auth          middleware.AuthConfig
	RateLimits    map[string]middleware.RateLimit
	Observability middleware.ObservabilityConfig
	CORS          middleware.CORSConfig
}

// Server exposes the confirmation protocol over HTTP.
type Server struct {
	protocol *protocol.Protocol
	logger   *slog.Logger
	handler  http.Handler
}

// NewServer builds the route tree: read endpoints require the read scope,
// mutation endpoints the write scope, and resolution endpoints the resolve
// scope. Each group carries its own rate-limit bucket.
func NewServer(p *protocol.Protocol, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{protocol: p, logger: logger}

	auth := middleware.NewAuthenticator(cfg.Auth, logger)
	limits := middleware.NewRateLimiter(cfg.RateLimits, logger)
	obs := middleware.NewObservability(cfg.Observability, logger)

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", obs.MetricsHandler())

	r.Route("/v1", func(v chi.Router) {
		v.Group(func(g chi.Router) {
			g.Use(limits.Middleware("read"))
			g.Use(auth.Middleware(middleware.ScopeRead))
			g.Use(obs.Middleware("read"))
			g.Get("/transactions", s.listTransactions)
			g.Get("/transactions/{id}", s.getTransaction)
			g.Get("/transactions/{id}/evidence", s.listEvidence)
			g.Get("/transactions/{id}/escalations", s.listEscalations)
			g.Get("/participants/{id}/pending", s.pendingFor)
			g.Get("/participants/{id}/disputes", s.disputesFor)
			g.Get("/participants/{id}/trust", s.trustScore)
			g.Get("/trust/leaderboard", s.leaderboard)
			g.Get("/disputes/{id}", s.getDispute)
		})
		v.Group(func(g chi.Router) {
			g.Use(limits.Middleware("write"))
			g.Use(auth.Middleware(middleware.ScopeWrite))
			g.Use(obs.Middleware("write"))
			g.Post("/transactions", s.submitTransaction)
			g.Post("/transactions/{id}/confirm-sent", s.confirmSent)
			g.Post("/transactions/{id}/confirm-received", s.confirmReceived)
			g.Post("/transactions/{id}/dispute", s.openDispute)
			g.Post("/transactions/{id}/evidence", s.submitEvidence)
		})
		v.Group(func(g chi.Router) {
			g.Use(limits.Middleware("resolve"))
			g.Use(auth.Middleware(middleware.ScopeResolve))
			g.Use(obs.Middleware("resolve"))
			g.Post("/disputes/{id}/resolve", s.resolveDispute)
			g.Post("/disputes/{id}/status", s.updateDisputeStatus)
			g.Post("/compensations/{id}/decision", s.decideCompensation)
		})
	})

	s.handler = otelhttp.NewHandler(r, "twocheck-gateway")
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }
