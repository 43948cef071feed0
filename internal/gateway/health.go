package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// RegisterHealth mounts /healthz and /status on mux.
func RegisterHealth(mux *http.ServeMux, g *Gateway, started time.Time) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
			Uptime string `json:"uptime"`
			Stats
		}{
			Status: "running",
			Uptime: time.Since(started).Truncate(time.Second).String(),
			Stats:  g.Stats(),
		})
	})
}
