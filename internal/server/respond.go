package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// errorBody is the JSON envelope for every non-2xx response. Kind follows the
// error taxonomy: not_found, validation, expired, exhausted, conflict,
// verification_failed, internal.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, reason string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Reason: reason}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
