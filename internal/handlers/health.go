package handlers

import (
	"encoding/json"
	"net/http"

	"imagevault/internal/gateway"
)

// Health reports gateway readiness so callers can tell whether AI search is
// currently possible.
func Health(model gateway.ModelGateway, index gateway.VectorIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexHealthy := index.Health(r.Context()) == nil
		modelReady := model.Ready()

		status := http.StatusOK
		if !indexHealthy || !modelReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"model_ready":   modelReady,
			"index_healthy": indexHealthy,
		})
	}
}
