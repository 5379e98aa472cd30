package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"tempmailproxy/internal/admin"
	"tempmailproxy/internal/config"
	"tempmailproxy/internal/domain"
	"tempmailproxy/internal/requestid"
)

// Provider is the pass-through part of the mail.tm client.
type Provider interface {
	ListDomains(ctx context.Context) ([]json.RawMessage, error)
	GetToken(ctx context.Context, address, password string) (json.RawMessage, error)
	ListMessages(ctx context.Context, token string, page int) (json.RawMessage, error)
	GetMessage(ctx context.Context, token, messageID string) (json.RawMessage, error)
}

// Provisioner creates new disposable accounts.
type Provisioner interface {
	Create(ctx context.Context, req domain.NewAccountRequest) (*domain.AccountBundle, error)
}

// ReadinessChecker is consulted by /api/readyz when set.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	cfg         *config.Config
	provider    Provider
	provisioner Provisioner
	admin       *admin.AdminHandler
	ready       ReadinessChecker
	logger      *slog.Logger
	validate    *validator.Validate
}

type Option func(*Handler)

// WithAdmin mounts the admin routes under /api/admin.
func WithAdmin(a *admin.AdminHandler) Option {
	return func(h *Handler) {
		h.admin = a
	}
}

// WithReadiness makes /api/readyz depend on rc.
func WithReadiness(rc ReadinessChecker) Option {
	return func(h *Handler) {
		h.ready = rc
	}
}

func New(cfg *config.Config, provider Provider, provisioner Provisioner, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cfg:         cfg,
		provider:    provider,
		provisioner: provisioner,
		logger:      logger,
		validate:    validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestid.Middleware)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins:   h.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestid.Header},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Get("/", h.root)
	r.Get("/test", h.test)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Get("/readyz", h.readyz)

		r.Get("/domains", h.getDomains)

		r.Route("/temp-mail", func(r chi.Router) {
			r.Post("/new", h.createTempMail)
			r.Post("/token", h.createToken)
			r.Get("/messages", h.listMessages)
			r.Get("/messages/{id}", h.getMessage)
		})

		if h.admin != nil {
			r.Route("/admin", h.admin.RegisterRoutes)
		}
	})

	return r
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready.Ping(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// requestLogger logs one structured line per request once the handler returns.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", requestid.FromContext(r.Context())),
			)
		})
	}
}
