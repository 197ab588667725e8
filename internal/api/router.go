package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"dataferry/internal/auth"
	"dataferry/internal/response"
)

// NewRouter registers the API endpoints. /health stays open; everything else
// requires apiKey when one is configured.
func NewRouter(batches *BatchAPI, apiKey string) *mux.Router {
	r := mux.NewRouter()
	r.Use(auth.APIKeyMiddleware(&auth.Config{APIKey: apiKey, Exempt: []string{"/health"}}))

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Plain("OK").Write(w)
	})
	r.Methods(http.MethodPost).Path("/v1/batches").Handler(appHandler(batches.createBatch))
	r.Methods(http.MethodGet).Path("/v1/batches/{id}").Handler(appHandler(batches.getBatch))
	return r
}
