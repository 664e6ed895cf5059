package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"oauth_config", func() error { return h.cfg.ValidateOAuthReady() }},
		{"bot_config", func() error { return h.cfg.ValidateBotReady() }},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports how many rooms and authorizations the relay holds.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var rooms, authorizations int
	if err := h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*), COALESCE(SUM(jsonb_array_length(records)), 0) FROM auth_rooms`).
		Scan(&rooms, &authorizations); err != nil {
		http.Error(w, fmt.Sprintf("status query failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"rooms":          rooms,
		"authorizations": authorizations,
	})
}
