package httputil

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/arkline/identity-api/internal/apperr"
)

// DataResponse is the wire envelope every endpoint returns. StatusCode
// mirrors the HTTP status so clients can rely on the body alone.
type DataResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// RespondJSON sends a JSON response with the given status code.
// Logs encoding errors to avoid silent failures.
func RespondJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// RespondData wraps data in a successful DataResponse.
func RespondData(w http.ResponseWriter, data any, statusCode int) {
	RespondJSON(w, DataResponse{Success: true, StatusCode: statusCode, Data: data}, statusCode)
}

// RespondError converts err into the failure envelope, using the status
// classification carried by the error (500 for anything unclassified).
func RespondError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	RespondJSON(w, DataResponse{Success: false, StatusCode: status, Message: err.Error()}, status)
}
