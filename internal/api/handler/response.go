package handler

import (
	"encoding/json"
	"net/http"
)

// Envelope is the body of every JSON response.
// Status is 1 on success and 0 on failure.
type Envelope struct {
	Status int    `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}

// Success writes data inside a success envelope.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Status: 1, Data: data})
}

// Error writes a failure envelope. code is a stable machine-readable tag.
func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, Envelope{
		Status: 0,
		Error:  message,
		Code:   code,
	})
}
