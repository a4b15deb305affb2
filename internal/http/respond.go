package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/automator/internal/store"
	"github.com/nextlevelbuilder/automator/internal/vault"
)

// maxRequestBodySize caps request bodies to prevent DoS.
const maxRequestBodySize = 1 << 20

// validationError marks malformed input so writeError maps it to 422.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

// writeError maps an error onto the {"error": ...} envelope: 404 for
// not-found, 409 for conflict and integrity violations, 422 for malformed
// input, 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var vErr *validationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrIntegrity):
		status = http.StatusConflict
	case errors.As(err, &vErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrNotInitialized), errors.Is(err, vault.ErrDecryptFailed):
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeJSON reads a size-capped JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return invalidf("invalid JSON: %s", err)
	}
	return nil
}
