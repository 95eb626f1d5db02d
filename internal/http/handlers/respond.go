package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nika/server/internal/apperr"
)

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// respondWithAppError renders a service error; causes are never exposed.
func respondWithAppError(w http.ResponseWriter, err error) {
	ae := apperr.As(err)
	if ae == nil {
		ae = apperr.InternalError(err)
	}
	body := map[string]any{"error": ae.Message, "kind": ae.Kind.String()}
	for k, v := range ae.Data {
		body[k] = v
	}
	respondJSON(w, ae.Kind.Status(), body)
}
