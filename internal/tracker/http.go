package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	StartPath    = "/api/eai/dataset/upload/start"
	ProgressPath = "/api/eai/dataset/upload/process"
	CompletePath = "/api/eai/dataset/upload/complete"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"msg,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HTTPTracker posts JSON notifications to the tracking service.
type HTTPTracker struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTracker(baseURL, token string) *HTTPTracker {
	return &HTTPTracker{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Start registers the batch and returns the service's upload task id.
func (t *HTTPTracker) Start(ctx context.Context, req *StartRequest) (string, error) {
	env, err := t.post(ctx, StartPath, req)
	if err != nil {
		return "", err
	}

	var data struct {
		UploadTaskID json.RawMessage `json:"uploadTaskId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("tracker: unexpected start response: %w", err)
	}
	// uploadTaskId may arrive as a JSON number or string.
	id := strings.Trim(string(data.UploadTaskID), `"`)
	if id == "" || id == "null" {
		return "", fmt.Errorf("tracker: start response has no uploadTaskId")
	}
	return id, nil
}

func (t *HTTPTracker) Progress(ctx context.Context, update *ProgressUpdate) error {
	_, err := t.post(ctx, ProgressPath, update)
	return err
}

func (t *HTTPTracker) Complete(ctx context.Context, uploadTaskID, status string) error {
	_, err := t.post(ctx, CompletePath, map[string]string{
		"upload_task_id": uploadTaskID,
		"status":         status,
	})
	return err
}

func (t *HTTPTracker) post(ctx context.Context, path string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker: %s returned HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("tracker: %s: invalid response: %w", path, err)
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("tracker: %s returned code %d: %s", path, env.Code, env.Message)
	}
	return &env, nil
}
