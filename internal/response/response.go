package response

import (
	"encoding/json"
	"net/http"
)

type ResponseWriter interface {
	Write(w http.ResponseWriter)
	WriteError(w http.ResponseWriter, status int)
}

// JSONResponse wraps any payload for API endpoints
type JSONResponse struct {
	Body any
}

func (r *JSONResponse) Write(w http.ResponseWriter) {
	r.WriteStatus(w, http.StatusOK)
}

func (r *JSONResponse) WriteError(w http.ResponseWriter, status int) {
	r.WriteStatus(w, status)
}

func (r *JSONResponse) WriteStatus(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(r.Body)
}

// ErrorBody is the shape of every API error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

type PlainResponse struct {
	Message string
}

func (r *PlainResponse) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(r.Message))
}

func (r *PlainResponse) WriteError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(r.Message))
}

// Convenience functions for common patterns
func JSON(body any) *JSONResponse {
	return &JSONResponse{Body: body}
}

func Error(code, message, hint string) *JSONResponse {
	return &JSONResponse{Body: ErrorBody{Code: code, Message: message, Hint: hint}}
}

func Plain(message string) ResponseWriter {
	return &PlainResponse{Message: message}
}
