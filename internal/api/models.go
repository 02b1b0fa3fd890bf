package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/user/shellbridge/internal/registry"
)

const refreshTimeout = 30 * time.Second

type modelsResponse struct {
	registry.Snapshot
	Models []registry.Model `json:"models"`
}

func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		jsonError(w, http.StatusServiceUnavailable, "model registry unavailable")
		return
	}

	var models []registry.Model
	if provider := strings.TrimSpace(r.URL.Query().Get("provider")); provider != "" {
		models = h.models.ByProvider(registry.Provider(provider))
	} else {
		models = h.models.List(r.URL.Query().Get("search"))
	}
	if models == nil {
		models = []registry.Model{}
	}
	jsonResponse(w, http.StatusOK, modelsResponse{Snapshot: h.models.Snapshot(), Models: models})
}

func (h *handler) refreshModels(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		jsonError(w, http.StatusServiceUnavailable, "model registry unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()
	if err := h.models.Refresh(ctx); err != nil {
		h.logger.Warn("model refresh failed", "error", err)
		jsonError(w, http.StatusGatewayTimeout, "model refresh failed")
		return
	}
	jsonResponse(w, http.StatusOK, h.models.Snapshot())
}
