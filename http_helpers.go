package energylens

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// writeJSON encodes data as JSON with status 200.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

// writeJSONStatus writes a JSON response with a specific status code.
func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

// jsonError writes a JSON-formatted error response.
func jsonError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSONStatus(w, status, map[string]any{
		"status":    "error",
		"errorType": errorType,
		"error":     message,
	})
}

// writeError maps err onto an HTTP status and writes it as JSON.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("HTTP error", "status", status, "err", err)
	} else {
		slog.Warn("HTTP error", "status", status, "err", err)
	}
	jsonError(w, status, errorType, err.Error())
}

func classifyError(err error) (int, string) {
	var (
		ingest *IngestError
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, ErrNoDataset):
		return http.StatusConflict, "no_dataset"
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrMissingColumn):
		return http.StatusBadRequest, "missing_column"
	case errors.Is(err, ErrInvalidContamination),
		errors.Is(err, ErrInvalidBudget),
		errors.Is(err, ErrUnknownCategory):
		return http.StatusBadRequest, "bad_parameter"
	case errors.Is(err, ErrEmptyTable), errors.Is(err, ErrDuplicateColumn), errors.As(err, &ingest):
		return http.StatusBadRequest, "bad_data"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
