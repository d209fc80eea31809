package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ayush/finalapi/internal/logging"
	"github.com/ayush/finalapi/internal/models"
)

// MaxBodyBytes caps request bodies accepted by the auth endpoints.
const MaxBodyBytes = 1 << 20

// Outcome labels reported to an OutcomeRecorder.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid"
	OutcomeUnauthorized = "unauthorized"
	OutcomeUnavailable  = "unavailable"
	OutcomeError        = "error"
)

// Authenticator is the part of Service the HTTP layer depends on.
type Authenticator interface {
	Register(ctx context.Context, req models.RegisterRequest) error
	Login(ctx context.Context, req models.LoginRequest) (string, error)
}

// OutcomeRecorder counts handler results.
type OutcomeRecorder interface {
	Registration(outcome string)
	Login(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) Registration(string) {}
func (noopRecorder) Login(string)        {}

// Handler holds auth-related HTTP handlers.
type Handler struct {
	svc     Authenticator
	logger  *slog.Logger
	metrics OutcomeRecorder
}

// NewHandler creates a Handler. metrics may be nil.
func NewHandler(svc Authenticator, logger *slog.Logger, metrics OutcomeRecorder) *Handler {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Handler{svc: svc, logger: logger, metrics: metrics}
}

// Register creates a new user. Success is an empty 200.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.metrics.Registration(OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorsBody{Errors: err})
		return
	}

	if err := h.svc.Register(r.Context(), req); err != nil {
		h.metrics.Registration(h.writeError(w, r, "register", err))
		return
	}

	h.metrics.Registration(OutcomeSuccess)
	w.WriteHeader(http.StatusOK)
}

// Login authenticates a user and returns a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.metrics.Login(OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorsBody{Errors: err})
		return
	}

	token, err := h.svc.Login(r.Context(), req)
	if err != nil {
		h.metrics.Login(h.writeError(w, r, "login", err))
		return
	}

	h.metrics.Login(OutcomeSuccess)
	writeJSON(w, http.StatusOK, models.TokenResponse{Token: token})
}

// Me describes the caller from the claims placed in the context by the
// bearer middleware.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	resp := models.MeResponse{
		ID:       claims.Subject,
		Username: claims.Name,
		Roles:    claims.Roles,
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorsBody struct {
	Errors ValidationErrors `json:"errors"`
}

type messageBody struct {
	Error string `json:"error"`
}

// writeError maps a service error to a response and returns its outcome label.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) string {
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorsBody{Errors: verrs})
		return OutcomeInvalid
	case errors.Is(err, ErrUnauthorized):
		// Same empty 401 for every credential failure.
		w.WriteHeader(http.StatusUnauthorized)
		return OutcomeUnauthorized
	case errors.Is(err, ErrInfrastructure):
		logging.LogError(h.logger, op+" failed", err, "path", r.URL.Path)
		writeJSON(w, http.StatusServiceUnavailable, messageBody{Error: "service unavailable"})
		return OutcomeUnavailable
	default:
		logging.LogError(h.logger, op+" failed", err, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, messageBody{Error: "internal error"})
		return OutcomeError
	}
}

// decodeBody reads one JSON object of at most MaxBodyBytes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) ValidationErrors {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		msg := "request body must be a JSON object"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body is too large"
		}
		return ValidationErrors{{Field: "body", Code: CodeInvalidBody, Message: msg}}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
