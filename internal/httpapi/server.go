// Package httpapi exposes the lot workflow over HTTP.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/clock"
	"github.com/yourorg/lotflow/internal/evidence"
	"github.com/yourorg/lotflow/internal/label"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/workflow"
)

type Config struct {
	Addr              string        `env:"ADDR" envDefault:":8080"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxBodyBytes      int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	// ValidationsPerMinute caps token checks per client address on the
	// public token endpoints.
	ValidationsPerMinute int `env:"TOKEN_VALIDATIONS_PER_MIN" envDefault:"60"`
}

// LoadConfig reads LOTFLOW_HTTP_* variables.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "LOTFLOW_HTTP_"})
	if err != nil {
		return Config{}, fmt.Errorf("parse http env: %w", err)
	}
	return cfg, nil
}

// Deps are the collaborators the server routes to. Keys may be nil, which
// disables the service-account admin routes.
type Deps struct {
	Engine       *workflow.Engine
	Auth         *auth.Authenticator
	Keys         auth.KeyStore
	Evidence     evidence.Storage
	Renderer     label.Renderer
	LabelBaseURL string
	Clock        clock.Clock
	Logger       *slog.Logger
}

type Server struct {
	cfg      Config
	engine   *workflow.Engine
	authn    *auth.Authenticator
	keys     *auth.Handler
	evidence evidence.Storage
	renderer label.Renderer
	baseURL  string
	limiter  *auth.RateLimiter
	validate *validator.Validate
	logger   *slog.Logger
}

func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	authn := deps.Auth
	if authn == nil {
		authn = auth.NewAuthenticator(nil, nil, nil, logger)
	}
	ev := deps.Evidence
	if ev == nil {
		ev = evidence.NewInMemoryStorage()
	}
	s := &Server{
		cfg:      cfg,
		engine:   deps.Engine,
		authn:    authn,
		evidence: ev,
		renderer: deps.Renderer,
		baseURL:  deps.LabelBaseURL,
		limiter:  auth.NewRateLimiter(cfg.ValidationsPerMinute, time.Minute, deps.Clock),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	if deps.Keys != nil {
		s.keys = auth.NewHandler(deps.Keys, logger)
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(correlation)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.authn.Middleware)

	r.Get("/healthz", s.healthz)

	r.Route("/lots", func(r chi.Router) {
		r.With(auth.RequireIdentity).Post("/", s.createLot)
		r.Route("/{lotId}", func(r chi.Router) {
			// Token holders read without an account.
			r.Get("/", s.getLot)
			r.Get("/access-tokens/validate", s.validateToken)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireIdentity)
				r.Get("/audit", s.auditTrail)
				r.Post("/status", s.transition)
				r.Post("/access-tokens", s.issueToken)
				r.Delete("/access-tokens/expired", s.pruneTokens)
				r.Post("/installations", s.install)
				r.Post("/inspections", s.inspect)
				r.Post("/replacement-requests", s.requestReplacement)
				r.With(auth.RequireRoles(lot.RoleInspector, lot.RoleTrackWorker)).Post("/evidence-uploads", s.evidenceUpload)
			})
		})
	})

	r.Route("/replacement-requests/{requestId}", func(r chi.Router) {
		r.Use(auth.RequireIdentity)
		r.Get("/", s.getReplacement)
		r.Post("/review", s.reviewReplacement)
		r.Post("/complete", s.completeReplacement)
	})

	r.With(auth.RequireIdentity).Get("/me/history", s.userHistory)

	if s.keys != nil {
		r.Route("/service-accounts", func(r chi.Router) {
			r.Use(auth.RequireRoles(lot.RoleAdmin))
			r.Post("/", s.keys.CreateKey)
			r.Get("/", s.keys.ListKeys)
			r.Delete("/{accountId}", func(w http.ResponseWriter, r *http.Request) {
				s.keys.RevokeKey(w, r, chi.URLParam(r, "accountId"))
			})
			r.Post("/{accountId}/rotate", func(w http.ResponseWriter, r *http.Request) {
				s.keys.RotateKey(w, r, chi.URLParam(r, "accountId"))
			})
		})
	}
	return r
}

// HTTPServer wraps Handler with the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, r.Header.Get(correlationHeader), map[string]string{"status": "ok"}, nil)
}

// request resolves the per-request values every handler needs.
func (s *Server) request(r *http.Request) (auth.Identity, string, *slog.Logger) {
	corrID := r.Header.Get(correlationHeader)
	id, _ := auth.IdentityFromContext(r.Context())
	return id, corrID, CorrelationLogger(s.logger, corrID, id.ActorID)
}
