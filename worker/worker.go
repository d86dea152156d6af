package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Satyampatil513/resume-editor/models"
	"github.com/Satyampatil513/resume-editor/pipeline"
	"github.com/Satyampatil513/resume-editor/queue"
)

// Pipeline is the set of operations a worker dispatches jobs to
type Pipeline interface {
	CompileZip(ctx context.Context, jobID, locator string) (string, error)
	CompileContent(ctx context.Context, jobID, text string) (string, error)
	CheckSyntax(ctx context.Context, jobID, text string) ([]models.SyntaxIssue, error)
}

// Options tunes the poll loop
type Options struct {
	// IdleInterval is the sleep after an empty poll
	IdleInterval time.Duration
	// BackoffInterval is the sleep after the store failed
	BackoffInterval time.Duration
	ResultTTL       time.Duration
}

// DefaultOptions returns the intervals used when nothing is configured
func DefaultOptions() Options {
	return Options{
		IdleInterval:    2 * time.Second,
		BackoffInterval: 5 * time.Second,
		ResultTTL:       queue.DefaultResultTTL,
	}
}

// Worker is the single consumer of the job queue. Jobs are processed one at
// a time.
type Worker struct {
	ID       string
	queue    queue.Store
	pipeline Pipeline
	opts     Options
	logger   *zap.Logger

	mu         sync.Mutex
	processing bool
	notify     func(models.JobEvent)
}

// NewWorker creates a new worker instance
func NewWorker(id string, q queue.Store, p Pipeline, opts Options, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = def.IdleInterval
	}
	if opts.BackoffInterval <= 0 {
		opts.BackoffInterval = def.BackoffInterval
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = def.ResultTTL
	}

	return &Worker{
		ID:       id,
		queue:    q,
		pipeline: p,
		opts:     opts,
		logger:   logger.With(zap.String("worker", id)),
	}
}

// SetNotifier registers a callback invoked on every job state change
func (w *Worker) SetNotifier(fn func(models.JobEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notify = fn
}

// Processing reports whether a job is currently being handled
func (w *Worker) Processing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processing
}

// Run polls the queue until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting")

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}

		job, err := w.queue.Dequeue(ctx)
		switch {
		case err == nil:
			w.Process(ctx, job)
			continue
		case errors.Is(err, queue.ErrEmpty):
			w.sleep(ctx, w.opts.IdleInterval)
		case errors.Is(err, queue.ErrMalformedJob):
			w.logger.Warn("dropping malformed job", zap.Error(err))
		default:
			if ctx.Err() == nil {
				w.logger.Warn("queue poll failed, backing off", zap.Error(err), zap.Duration("backoff", w.opts.BackoffInterval))
			}
			w.sleep(ctx, w.opts.BackoffInterval)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Process runs one job and publishes its result exactly once. Jobs of an
// unknown type are dropped without a result.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))

	if !job.Type.Valid() {
		log.Error("unknown job type, dropping job")
		return
	}

	w.setProcessing(true)
	defer w.setProcessing(false)

	log.Info("processing job")
	w.emit(job, models.StatusProcessing, "")

	result := w.dispatch(ctx, job)
	if result.Status == models.StatusFailed {
		log.Warn("job failed", zap.String("error", result.Error))
	} else {
		log.Info("job completed")
	}

	if err := w.queue.PublishResult(ctx, job.ID, result, w.opts.ResultTTL); err != nil {
		log.Error("failed to publish job result", zap.Error(err))
	}
	w.emit(job, result.Status, result.Error)
}

func (w *Worker) dispatch(ctx context.Context, job *models.Job) *models.JobResult {
	var (
		out any
		err error
	)
	switch job.Type {
	case models.TypeCompileZip:
		if job.Payload.ZipURL == "" {
			return models.Failed("zipUrl is required", "")
		}
		out, err = w.pipeline.CompileZip(ctx, job.ID, job.Payload.ZipURL)
	case models.TypeCompileContent:
		out, err = w.pipeline.CompileContent(ctx, job.ID, job.Payload.Content)
	case models.TypeCheckSyntax:
		out, err = w.pipeline.CheckSyntax(ctx, job.ID, job.Payload.Content)
	}
	if err != nil {
		return models.Failed(err.Error(), pipeline.LogsOf(err))
	}

	res, err := models.Completed(out)
	if err != nil {
		return models.Failed(fmt.Sprintf("failed to encode result: %v", err), "")
	}
	return res
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	w.processing = v
	w.mu.Unlock()
}

func (w *Worker) emit(job *models.Job, status models.JobStatus, errMsg string) {
	w.mu.Lock()
	fn := w.notify
	w.mu.Unlock()
	if fn == nil {
		return
	}
	fn(models.JobEvent{
		JobID:     job.ID,
		Type:      job.Type,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}
