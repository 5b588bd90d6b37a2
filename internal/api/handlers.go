package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/pkg/models"
)

// TokenRunner is the pipeline seen from the HTTP boundary: one call, one
// typed outcome, never a bare error.
type TokenRunner interface {
	Run(ctx context.Context) models.Outcome
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	runner TokenRunner
	logger *zap.Logger
}

func NewHandler(runner TokenRunner, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, logger: logger.Named("api")}
}

// GetToken handles GET /get-token.
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	out := h.runner.Run(r.Context())

	if out.Succeeded() {
		writeJSON(w, http.StatusOK, models.TokenResponse{
			Token:     out.Token.Value,
			TokenKind: string(out.Token.Kind),
			ExpiresAt: out.Token.ExpiresAt,
		})
		return
	}

	writeJSON(w, statusFor(out.Failure.Kind), models.ErrorResponse{
		ErrorKind: out.Failure.KindString(),
		Detail:    out.Failure.Detail,
	})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps error kinds to stable status codes so clients can branch on
// status alone.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindCapacityExceeded:
		return http.StatusTooManyRequests
	case models.KindSolverTimeout, models.KindLoginTimeout, models.KindStageTimeout:
		return http.StatusGatewayTimeout
	case models.KindSessionStartFailure, models.KindNavigationFailure,
		models.KindUnsupportedChallenge, models.KindSolverRejected,
		models.KindInjectionFailure, models.KindInvalidCredentials,
		models.KindUnexpectedChallenge, models.KindTokenNotFound:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
