package app

import (
	"context"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"waypointrelay/internal/model"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/items", a.handleItems)
	mux.HandleFunc("/api/pending", a.handlePending)
	mux.HandleFunc("/api/destinations", a.handleDestinations)
	mux.HandleFunc("/api/refresh", a.handleRefresh)
	mux.HandleFunc("/api/history/attempts", a.handleRecentAttempts)
	mux.HandleFunc("/api/history/fixes", a.handleRecentFixes)

	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.queue == nil || a.monitor == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// handleItems serves the display model from the most recent cycle, plus
// the last snapshot read error if the source is currently unavailable.
func (a *App) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, sourceErr := a.currentStatus()
	if status == nil {
		status = []model.ItemStatus{}
	}

	response := struct {
		Items       []model.ItemStatus `json:"items"`
		SourceError string             `json:"source_error,omitempty"`
	}{Items: status, SourceError: sourceErr}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode items response", "error", err)
	}
}

func (a *App) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := struct {
		Pending map[string]int `json:"pending"`
	}{Pending: a.queue.Depths()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode pending response", "error", err)
	}
}

func (a *App) handleDestinations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.serveDestinations(w, r)
	case http.MethodPut:
		a.replaceDestinations(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) serveDestinations(w http.ResponseWriter, _ *http.Request) {
	response := struct {
		TagConfigs []model.Destination `json:"tag_configs"`
	}{TagConfigs: a.dests.Snapshot()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode destinations response", "error", err)
	}
}

// replaceDestinations is replace-all: the request body becomes the whole
// destination list, matching how the original table editor saved.
func (a *App) replaceDestinations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TagConfigs []model.Destination `json:"tag_configs"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := a.dests.Replace(req.TagConfigs); err != nil {
		a.logger.Error("failed to save destinations", "error", err)
		http.Error(w, "failed to save destinations", http.StatusInternalServerError)
		return
	}

	response := struct {
		TagConfigs []model.Destination `json:"tag_configs"`
	}{TagConfigs: a.dests.Snapshot()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode destinations response", "error", err)
	}
}

// handleRefresh runs one forced cycle inline and returns once it has
// finished and the display model has settled.
func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	a.monitor.ForceRefresh(ctx)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"refreshed"}`))
}

func (a *App) handleRecentAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	attempts, err := a.store.RecentDeliveryAttempts(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load delivery attempts", "error", err)
		http.Error(w, "failed to load attempts", http.StatusInternalServerError)
		return
	}

	response := struct {
		Attempts []model.DeliveryAttempt `json:"attempts"`
	}{Attempts: attempts}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode attempts response", "error", err)
	}
}

func (a *App) handleRecentFixes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	fixes, err := a.store.RecentFixes(ctx, r.URL.Query().Get("serial"), limit)
	if err != nil {
		a.logger.Error("failed to load fix history", "error", err)
		http.Error(w, "failed to load fixes", http.StatusInternalServerError)
		return
	}

	response := struct {
		Fixes []model.Point `json:"fixes"`
	}{Fixes: fixes}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode fixes response", "error", err)
	}
}
