package web

import (
	"encoding/json"
	"net/http"
)

// Respond marshals v as JSON and writes it with the given status code.
func Respond(w http.ResponseWriter, statusCode int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, err = w.Write(data)
	return err
}

// errorResponse is the JSON shape of an error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// RespondError writes err's message as a JSON error body with the
// given status code; write failures are not propagated since the
// caller has nothing further to act on.
func RespondError(w http.ResponseWriter, statusCode int, err error) {
	_ = Respond(w, statusCode, errorResponse{Error: err.Error()})
}
