package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

const batchKey = "batch-key"

// guardedRouter mounts the middleware the way the API server does.
func guardedRouter(apiKey string) *mux.Router {
	r := mux.NewRouter()
	r.Use(APIKeyMiddleware(&Config{APIKey: apiKey, Exempt: []string{"/health"}}))
	ok := func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(ok)
	r.Methods(http.MethodPost).Path("/v1/batches").HandlerFunc(ok)
	r.Methods(http.MethodGet).Path("/v1/batches/{id}").HandlerFunc(ok)
	return r
}

func TestAPIKeyMiddleware_BatchRoutes(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		method   string
		path     string
		headers  map[string]string
		expected int
	}{
		{"Open server submits without a key", "", http.MethodPost, "/v1/batches", nil, http.StatusOK},
		{"Health needs no key", batchKey, http.MethodGet, "/health", nil, http.StatusOK},
		{"Health ignores a wrong key", batchKey, http.MethodGet, "/health", map[string]string{"X-API-Key": "nope"}, http.StatusOK},
		{"Submit without a key", batchKey, http.MethodPost, "/v1/batches", nil, http.StatusUnauthorized},
		{"Submit with bearer", batchKey, http.MethodPost, "/v1/batches",
			map[string]string{"Authorization": "Bearer " + batchKey}, http.StatusOK},
		{"Status with X-API-Key", batchKey, http.MethodGet, "/v1/batches/b-1",
			map[string]string{"X-API-Key": batchKey}, http.StatusOK},
		{"Status with wrong key", batchKey, http.MethodGet, "/v1/batches/b-1",
			map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"Bearer scheme is required", batchKey, http.MethodPost, "/v1/batches",
			map[string]string{"Authorization": "Token " + batchKey}, http.StatusUnauthorized},
		{"Empty bearer", batchKey, http.MethodPost, "/v1/batches",
			map[string]string{"Authorization": "Bearer "}, http.StatusUnauthorized},
		{"Wrong bearer falls back to X-API-Key", batchKey, http.MethodPost, "/v1/batches",
			map[string]string{"Authorization": "Bearer nope", "X-API-Key": batchKey}, http.StatusOK},
		{"Key prefix is not enough", batchKey, http.MethodPost, "/v1/batches",
			map[string]string{"X-API-Key": batchKey[:5]}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			guardedRouter(tt.apiKey).ServeHTTP(rr, req)

			if rr.Code != tt.expected {
				t.Errorf("Expected status %d, got %d (%s)", tt.expected, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAPIKeyMiddleware_ExemptIsExact(t *testing.T) {
	config := &Config{APIKey: batchKey, Exempt: []string{"/health"}}

	if !config.exempt("/health") {
		t.Error("Expected /health to be exempt")
	}
	for _, p := range []string{"/health/", "/healthz", "/v1/batches"} {
		if config.exempt(p) {
			t.Errorf("Expected %s to require a key", p)
		}
	}
}

func TestAPIKeyMiddleware_RejectionBody(t *testing.T) {
	rr := httptest.NewRecorder()
	guardedRouter(batchKey).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/batches", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode rejection: %v", err)
	}
	if body.Code != "unauthorized" || body.Message == "" || body.Hint == "" {
		t.Errorf("Unexpected rejection body %+v", body)
	}
}
