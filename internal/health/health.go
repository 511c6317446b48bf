// Package health serves the liveness endpoint and watches it from the
// status page side.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusHealthy is reported by a live server.
const StatusHealthy = "healthy"

// Response is the health endpoint body.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Handler answers GET with {"status":"healthy","timestamp":RFC3339}.
// now defaults to time.Now.
func Handler(now func() time.Time) http.Handler {
	if now == nil {
		now = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Response{
			Status:    StatusHealthy,
			Timestamp: now().UTC().Format(time.RFC3339),
		})
	})
}
