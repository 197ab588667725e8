package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dataferry/internal/batch"
	"dataferry/internal/response"
	"dataferry/internal/verify"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
)

// Runner executes one batch to completion.
type Runner interface {
	Run(ctx context.Context, req batch.Request) *batch.Result
}

// CreateBatchRequest is the POST /v1/batches body.
type CreateBatchRequest struct {
	Directory    string   `json:"directory,omitempty"`
	Files        []string `json:"files,omitempty"`
	Target       string   `json:"target"`
	SkipExisting bool     `json:"skip_existing"`
	Verify       string   `json:"verify,omitempty"`
	OnConflict   string   `json:"on_conflict,omitempty"`
	RenameTo     string   `json:"rename_to,omitempty"`
	TaskName     string   `json:"task_name,omitempty"`
	EAITaskID    int64    `json:"eai_task_id,omitempty"`
}

// BatchStatus is what GET /v1/batches/{id} returns.
type BatchStatus struct {
	ID         string        `json:"batch_id"`
	Status     string        `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Result     *batch.Result `json:"result,omitempty"`
}

// AppError carries the HTTP status a handler failed with.
type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

type appHandler func(http.ResponseWriter, *http.Request) error

func (fn appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		var e *AppError
		if errors.As(err, &e) {
			response.Error(e.Code, e.Message, "").WriteError(w, e.Status)
			return
		}
		response.Error("internal", err.Error(), "").WriteError(w, http.StatusInternalServerError)
	}
}

// BatchAPI accepts batches over HTTP and runs them in the background. Batches
// run on the API's context so shutdown cancels them.
type BatchAPI struct {
	ctx    context.Context
	runner Runner
	log    *zap.SugaredLogger

	mu      sync.Mutex
	batches map[string]*BatchStatus
	wg      sync.WaitGroup
}

func NewBatchAPI(ctx context.Context, runner Runner, log *zap.SugaredLogger) *BatchAPI {
	return &BatchAPI{
		ctx:     ctx,
		runner:  runner,
		log:     log,
		batches: make(map[string]*BatchStatus),
	}
}

func (a *BatchAPI) createBatch(w http.ResponseWriter, r *http.Request) error {
	var body CreateBatchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return &AppError{http.StatusBadRequest, "invalid_body", fmt.Sprintf("cannot parse JSON from request body: %v", err)}
	}

	req, err := body.toRequest()
	if err != nil {
		return &AppError{http.StatusBadRequest, "invalid_argument", err.Error()}
	}
	req.ID = uuid.NewString()

	status := &BatchStatus{ID: req.ID, Status: StatusRunning, Submitted: time.Now().UTC()}
	a.mu.Lock()
	a.batches[req.ID] = status
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res := a.runner.Run(a.ctx, req)

		finished := time.Now().UTC()
		a.mu.Lock()
		status.Status = StatusDone
		status.Result = res
		status.FinishedAt = &finished
		a.mu.Unlock()
	}()

	a.log.Infow("batch accepted", "batch_id", req.ID, "target", req.Target)
	response.JSON(map[string]string{"batch_id": req.ID, "status": StatusRunning}).WriteStatus(w, http.StatusAccepted)
	return nil
}

func (a *BatchAPI) getBatch(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]
	if id == "" {
		return &AppError{http.StatusBadRequest, "invalid_argument", "batch ID must be required"}
	}

	a.mu.Lock()
	status, ok := a.batches[id]
	var snapshot BatchStatus
	if ok {
		snapshot = *status
	}
	a.mu.Unlock()

	if !ok {
		return &AppError{http.StatusNotFound, "not_found", "batch ID does not exist"}
	}
	response.JSON(snapshot).Write(w)
	return nil
}

// Wait blocks until every accepted batch has finished.
func (a *BatchAPI) Wait() {
	a.wg.Wait()
}

func (b *CreateBatchRequest) toRequest() (batch.Request, error) {
	policy, err := verify.ParsePolicy(b.Verify)
	if err != nil {
		return batch.Request{}, err
	}
	resolver, err := batch.ParseConflictMode(b.OnConflict, b.RenameTo)
	if err != nil {
		return batch.Request{}, err
	}
	if _, err := batch.NormalizeTarget(b.Target); err != nil {
		return batch.Request{}, err
	}
	if (b.Directory == "") == (len(b.Files) == 0) {
		return batch.Request{}, errors.New("exactly one of directory and files is required")
	}

	return batch.Request{
		Directory:      b.Directory,
		Files:          b.Files,
		Target:         b.Target,
		SkipExisting:   b.SkipExisting,
		Policy:         policy,
		OnConflict:     resolver,
		TaskName:       b.TaskName,
		ExternalTaskID: b.EAITaskID,
	}, nil
}
