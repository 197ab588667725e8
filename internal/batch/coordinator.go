package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dataferry/internal/config"
	ferr "dataferry/internal/errors"
	"dataferry/internal/preview"
	"dataferry/internal/schedule"
	"dataferry/internal/storage"
	"dataferry/internal/tracker"
	"dataferry/internal/upload"
)

type Options struct {
	Workers int
	// UploadTarget is the key root every dataset lives under.
	UploadTarget     string
	Upload           upload.Options
	ProgressInterval time.Duration
	Previews         config.PreviewOptions
}

// Coordinator runs batches. Each worker opens its own store connection
// through the factory; only the outcome tally is shared.
type Coordinator struct {
	factory storage.Factory
	resume  upload.ResumeStore
	tracker tracker.Tracker
	opts    Options
	log     *zap.SugaredLogger
}

func NewCoordinator(factory storage.Factory, resume upload.ResumeStore, tr tracker.Tracker, opts Options, log *zap.SugaredLogger) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 5 * time.Second
	}
	if tr == nil {
		tr = tracker.Nop{}
	}
	return &Coordinator{factory: factory, resume: resume, tracker: tr, opts: opts, log: log}
}

// Run uploads every file the request names and reports the aggregate. Only
// invalid requests are rejected before any worker starts; per-file failures
// are recorded in the result.
func (c *Coordinator) Run(ctx context.Context, req Request) *Result {
	batchID := req.ID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	log := c.log.With("batch_id", batchID)

	if err := req.validate(); err != nil {
		return errorResult(err)
	}
	if err := upload.ValidateFilters(c.opts.Upload.Filters); err != nil {
		return errorResult(ferr.Errorf(ferr.ErrInvalidArgument, "bad file filter: %v", err))
	}

	src, err := req.collect(c.opts.Upload.Filters)
	if err != nil {
		res := errorResult(err)
		if src != nil {
			res.Data = &Summary{BatchID: batchID, InvalidFiles: src.invalid, SourceType: src.kind}
		}
		return res
	}

	control, err := c.factory(ctx)
	if err != nil {
		return errorResult(ferr.NewError("connect", err))
	}
	target, err := resolveTarget(ctx, control, c.opts.UploadTarget, req.Target, req.OnConflict)
	if err != nil {
		return errorResult(err)
	}

	files := make([]schedule.File, len(src.files))
	for i, f := range src.files {
		files[i] = schedule.File{Path: f.path, Key: objectKey(c.opts.UploadTarget, target, f.rel), Size: f.size}
	}
	assignment, err := schedule.Distribute(files, c.opts.Workers)
	if err != nil {
		return errorResult(err)
	}

	summary := &Summary{
		BatchID:         batchID,
		TotalFiles:      len(files),
		InvalidFiles:    src.invalid,
		TotalBytes:      src.bytes,
		TotalSizeMB:     sizeMB(src.bytes),
		TargetDirectory: target,
		SourceType:      src.kind,
	}
	if src.kind == SourceDirectory {
		summary.SourceDirectory = req.Directory
	} else {
		summary.SourceFileList = req.Files
	}

	summary.UploadTaskID = c.startTracking(ctx, log, req, target, summary)

	log.Infow("batch started", "files", len(files), "bytes", src.bytes, "workers", len(assignment.Buckets),
		"makespan_bytes", assignment.Max(), "target", target)
	started := time.Now()

	t := newTally()
	var sent atomic.Int64
	stopReporter := c.reportProgress(ctx, log, summary.UploadTaskID, t, &sent, src.bytes)

	var wg sync.WaitGroup
	for i, bucket := range assignment.Buckets {
		if len(bucket.Files) == 0 {
			continue
		}
		wg.Add(1)
		go func(worker int, files []schedule.File) {
			defer wg.Done()
			c.work(ctx, log.With("worker", worker), req, files, t, &sent)
		}(i, bucket.Files)
	}
	wg.Wait()
	stopReporter()

	t.fill(summary)
	res := &Result{Data: summary}
	switch {
	case ctx.Err() != nil:
		res.Code = CodeCancelled
		res.Message = fmt.Sprintf("cancelled: %d uploaded, %d skipped, %d not uploaded",
			summary.SuccessCount, summary.SkippedCount, summary.FailureCount)
	case summary.FailureCount == 0:
		res.Code = CodeSuccess
		res.Message = fmt.Sprintf("uploaded %d files", summary.SuccessCount)
		if summary.SkippedCount > 0 {
			res.Message += fmt.Sprintf(", skipped %d", summary.SkippedCount)
		}
	case summary.SuccessCount > 0:
		res.Code = CodeFailure
		res.Message = fmt.Sprintf("partially uploaded: %d succeeded, %d failed", summary.SuccessCount, summary.FailureCount)
	default:
		res.Code = CodeFailure
		res.Message = fmt.Sprintf("all %d files failed", summary.FailureCount)
	}

	c.completeTracking(ctx, log, summary.UploadTaskID, res.OK())
	log.Infow("batch finished", "code", res.Code, "success", summary.SuccessCount, "failed", summary.FailureCount,
		"skipped", summary.SkippedCount, "uploaded_bytes", summary.UploadedBytes, "elapsed", time.Since(started))
	return res
}

// work uploads one bucket sequentially over a connection owned by this worker.
func (c *Coordinator) work(ctx context.Context, log *zap.SugaredLogger, req Request, files []schedule.File, t *tally, sent *atomic.Int64) {
	store, err := c.factory(ctx)
	if err != nil {
		log.Errorw("failed to open store connection", "error", err)
		for _, f := range files {
			t.record(upload.Outcome{Path: f.Path, Key: f.Key, Size: f.Size, Reason: "store connection failed: " + err.Error(), Err: err})
		}
		return
	}

	svc := upload.NewService(store, c.resume, c.opts.Upload, log)
	var previews *preview.Generator
	if c.opts.Previews.Enabled {
		previews = preview.New(store, c.opts.Previews, log)
	}

	for _, f := range files {
		if ctx.Err() != nil {
			t.record(upload.Outcome{Path: f.Path, Key: f.Key, Size: f.Size, Reason: ferr.ErrCancelled.Error(), Err: ferr.ErrCancelled})
			continue
		}

		out := svc.Process(ctx, f.Path, f.Key, req.SkipExisting, req.Policy, func(delta int64) { sent.Add(delta) })
		if out.Status == upload.StatusCommitted && previews != nil {
			if _, err := previews.Generate(ctx, f.Path, f.Key); err != nil {
				log.Warnw("preview generation failed", "path", f.Path, "key", f.Key, "error", err)
			}
		}
		t.record(out)
	}
}

func (c *Coordinator) startTracking(ctx context.Context, log *zap.SugaredLogger, req Request, target string, s *Summary) string {
	source := req.Directory
	if source == "" && len(req.Files) > 0 {
		source = req.Files[0]
	}
	taskName := req.TaskName
	if taskName == "" {
		taskName = target
	}

	id, err := c.tracker.Start(ctx, &tracker.StartRequest{
		ExternalTaskID: req.ExternalTaskID,
		TaskName:       taskName,
		SourcePath:     source,
		TargetRootPath: c.opts.UploadTarget,
		TargetFullPath: objectKey(c.opts.UploadTarget, target, ""),
		TotalFiles:     s.TotalFiles,
		TotalBytes:     s.TotalBytes,
	})
	if err != nil {
		log.Warnw("tracker start failed", "error", err)
		return ""
	}
	return id
}

// reportProgress sends counters every interval until the returned stop
// function is called. Stop sends one final report before returning.
func (c *Coordinator) reportProgress(ctx context.Context, log *zap.SugaredLogger, taskID string, t *tally, sent *atomic.Int64, total int64) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	report := func(rctx context.Context) {
		success, failed, skipped := t.counts()
		log.Infow("batch progress", "success", success, "failed", failed, "skipped", skipped,
			"bytes_sent", sent.Load(), "bytes_total", total)
		if taskID == "" {
			return
		}
		err := c.tracker.Progress(rctx, &tracker.ProgressUpdate{
			UploadTaskID: taskID,
			SuccessFiles: success + skipped,
			FailedFiles:  failed,
		})
		if err != nil {
			log.Warnw("tracker progress failed", "error", err)
		}
	}

	go func() {
		defer close(finished)
		ticker := time.NewTicker(c.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				report(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				report(ctx)
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func (c *Coordinator) completeTracking(ctx context.Context, log *zap.SugaredLogger, taskID string, ok bool) {
	if taskID == "" {
		return
	}
	status := tracker.StatusFailed
	if ok {
		status = tracker.StatusSuccess
	}
	if err := c.tracker.Complete(context.WithoutCancel(ctx), taskID, status); err != nil {
		log.Warnw("tracker complete failed", "error", err)
	}
}
