package httpmiddleware

import (
	"encoding/json"
	"net/http"
)

// writeError writes the API failure envelope used by every endpoint.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Message: message})
}
