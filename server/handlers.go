package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

// Handlers holds shared dependencies for HTTP endpoints.
type Handlers struct {
	db *sql.DB
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes. Ready means the database answers
// and the schema is present.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			var n int
			return h.db.QueryRowContext(r.Context(), `SELECT COUNT(1) FROM bindings WHERE FALSE`).Scan(&n)
		}},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not_ready",
				"failed": check.name,
				"error":  err.Error(),
			})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus summarizes the binding fleet and scanner heartbeats.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var total, monitored, locked, protected int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bindings`).Scan(&total)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bindings WHERE monitoring_enabled`).Scan(&monitored)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bindings WHERE locked`).Scan(&locked)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bindings WHERE protection_enabled`).Scan(&protected)

	heartbeats := map[string]string{}
	rows, err := h.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key LIKE 'scanner_%_last'`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if rows.Scan(&k, &v) == nil {
				heartbeats[k] = v
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"bindings": map[string]int{
			"total":     total,
			"monitored": monitored,
			"locked":    locked,
			"protected": protected,
		},
		"scanners": heartbeats,
	})
}
