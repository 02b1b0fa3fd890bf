package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/user/shellbridge/internal/shell"
)

type errorBody struct {
	Error string `json:"error"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message})
}

// runErrorStatus maps a RunCommand error to a response status. Zero means
// the client is gone and nothing should be written.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, shell.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, shell.ErrOutputClosed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 0
	default:
		return http.StatusInternalServerError
	}
}
