package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/ledger"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/store"
	"github.com/sells-group/credverify/internal/verify"
)

type errorBody struct {
	Error   string                     `json:"error"`
	Outcome *model.VerificationOutcome `json:"outcome,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, verify.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrMintFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status. A non-empty outcome is returned alongside
// so callers see the state the request ended in.
func writeError(w http.ResponseWriter, r *http.Request, err error, out *model.VerificationOutcome) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	body := errorBody{Error: err.Error()}
	if out != nil && out.RequestID != "" {
		body.Outcome = out
	}
	writeJSON(w, status, body)
}
