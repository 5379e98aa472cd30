// Package admin exposes the operator endpoints: password login issuing a JWT,
// and read-only views of provisioning stats and runtime configuration.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tempmailproxy/internal/config"
	"tempmailproxy/internal/domain"
)

// StatsReader is satisfied by the Redis stats store.
type StatsReader interface {
	GetStats(ctx context.Context) (*domain.Stats, error)
}

type AdminHandler struct {
	cfg    *config.Config
	stats  StatsReader
	auth   *AuthService
	logger *slog.Logger
}

func NewAdminHandler(cfg *config.Config, stats StatsReader, logger *slog.Logger) (*AdminHandler, error) {
	auth, err := NewAuthService(cfg.AdminPassword, cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &AdminHandler{
		cfg:    cfg,
		stats:  stats,
		auth:   auth,
		logger: logger,
	}, nil
}

// RegisterRoutes mounts login publicly and everything else behind the JWT check.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/stats", h.GetStats)
		r.Get("/config", h.GetConfig)
	})
}

func (h *AdminHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeDetail(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		token, ok := domain.ParseBearer(authHeader)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		if _, err := h.auth.ValidateToken(token); err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.auth.ValidatePassword(req.Password); err != nil {
		h.logger.WarnContext(r.Context(), "admin login rejected", slog.String("remote", r.RemoteAddr))
		writeDetail(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, err := h.auth.GenerateToken()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "signing admin token", slog.Any("error", err))
		writeDetail(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reading stats", slog.Any("error", err))
		writeDetail(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetConfig returns the runtime configuration minus secrets.
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mailtmBaseUrl":      h.cfg.MailTMBaseURL,
		"upstreamTimeout":    h.cfg.UpstreamTimeout.String(),
		"userAgent":          h.cfg.UserAgent,
		"logLevel":           h.cfg.LogLevel,
		"corsAllowedOrigins": h.cfg.CORSAllowedOrigins,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
