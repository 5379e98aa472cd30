package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tempmailproxy/internal/domain"
)

const maxRequestBodySize = 1 << 20

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Temp Mail Backend running"})
}

func (h *Handler) test(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"backend": "running"})
}

func (h *Handler) getDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.provider.ListDomains(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]json.RawMessage{"domains": domains})
}

func (h *Handler) createTempMail(w http.ResponseWriter, r *http.Request) {
	var req domain.NewAccountRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	bundle, err := h.provisioner.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *Handler) createToken(w http.ResponseWriter, r *http.Request) {
	var req domain.TokenRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, r, domain.NewError(domain.KindValidation, http.StatusUnprocessableEntity,
			"address and password are required", err))
		return
	}

	payload, err := h.provider.GetToken(r.Context(), *req.Address, *req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, payload)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	token, err := extractToken(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page := 1
	if q := r.URL.Query(); q.Has("page") {
		n, convErr := strconv.Atoi(q.Get("page"))
		if convErr != nil {
			h.writeError(w, r, domain.NewError(domain.KindValidation, http.StatusUnprocessableEntity,
				"page must be an integer", convErr))
			return
		}
		page = n
	}

	payload, err := h.provider.ListMessages(r.Context(), token, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, payload)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	token, err := extractToken(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payload, err := h.provider.GetMessage(r.Context(), token, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, payload)
}

// extractToken prefers the token query parameter, then a Bearer
// Authorization header.
func extractToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	if token, ok := domain.ParseBearer(r.Header.Get("Authorization")); ok {
		return token, nil
	}
	return "", domain.NewError(domain.KindBadRequest, http.StatusBadRequest, "Missing token", nil)
}

// decodeJSON reads a single JSON value into dst. allowEmpty accepts a missing
// body as the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(dst)
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return domain.NewError(domain.KindValidation, http.StatusUnprocessableEntity, "request body is required", err)
	case errors.As(err, &typeErr):
		return domain.NewError(domain.KindValidation, http.StatusUnprocessableEntity,
			"field "+typeErr.Field+" must be a "+typeErr.Type.String(), err)
	default:
		return domain.NewError(domain.KindBadRequest, http.StatusBadRequest, "Invalid request body", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.NewError(domain.KindInternal, http.StatusInternalServerError, "Internal Server Error", err)
	}
	if de.Status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("kind", string(de.Kind)),
			slog.Int("status", de.Status),
			slog.Any("error", err),
		)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected",
			slog.String("kind", string(de.Kind)),
			slog.Int("status", de.Status),
			slog.String("detail", de.Detail),
		)
	}
	writeJSON(w, de.Status, map[string]string{"detail": de.Detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw relays an upstream JSON document byte for byte.
func writeRaw(w http.ResponseWriter, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
