// Package gateway submits jobs to the queue and polls for their results.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Satyampatil513/resume-editor/models"
	"github.com/Satyampatil513/resume-editor/queue"
)

// ErrTimeout means no result appeared within the poll budget. The job may
// still complete later; the outcome is unknown, not failed.
var ErrTimeout = errors.New("timed out waiting for job result")

// JobFailedError is a failed JobResult surfaced as an error
type JobFailedError struct {
	JobID   string
	Message string
	Output  string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// Logs returns the tool logs attached to the failed job
func (e *JobFailedError) Logs() string { return e.Output }

// Options sets the poll budgets per job type. Each budget is a number of
// attempts spaced PollInterval apart.
type Options struct {
	PollInterval    time.Duration
	CompileAttempts int
	SyntaxAttempts  int
	ProjectAttempts int
}

// DefaultOptions gives compiles 30s and syntax checks 10s
func DefaultOptions() Options {
	return Options{
		PollInterval:    500 * time.Millisecond,
		CompileAttempts: 60,
		SyntaxAttempts:  20,
		ProjectAttempts: 120,
	}
}

// Gateway is the producer-side boundary of the job queue
type Gateway struct {
	store  queue.Store
	opts   Options
	logger *zap.Logger
	newID  func() string
}

// New creates a Gateway
func New(store queue.Store, opts Options, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.CompileAttempts <= 0 {
		opts.CompileAttempts = def.CompileAttempts
	}
	if opts.SyntaxAttempts <= 0 {
		opts.SyntaxAttempts = def.SyntaxAttempts
	}
	if opts.ProjectAttempts <= 0 {
		opts.ProjectAttempts = def.ProjectAttempts
	}
	return &Gateway{
		store:  store,
		opts:   opts,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}
}

// SubmitAndAwait enqueues job and polls for its result up to maxAttempts
// times, sleeping pollInterval between attempts. It returns ErrTimeout when
// the budget runs out, and the context's error if ctx ends first.
func (g *Gateway) SubmitAndAwait(ctx context.Context, job *models.Job, pollInterval time.Duration, maxAttempts int) (*models.JobResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if err := g.store.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	log := g.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	log.Debug("job submitted", zap.Int("max_attempts", maxAttempts))

	for attempt := 1; ; attempt++ {
		res, err := g.store.ConsumeResult(ctx, job.ID)
		if err == nil {
			log.Debug("job result received", zap.Int("attempt", attempt), zap.String("status", string(res.Status)))
			return res, nil
		}
		if !errors.Is(err, queue.ErrNoResult) {
			log.Warn("result poll failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt >= maxAttempts {
			break
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	log.Warn("timed out waiting for job result", zap.Int("attempts", maxAttempts))
	return nil, fmt.Errorf("%w: job %s after %d attempts", ErrTimeout, job.ID, maxAttempts)
}

// Submit builds a job with a fresh id and awaits it with the budget for its type
func (g *Gateway) Submit(ctx context.Context, jobType models.JobType, payload models.Payload) (string, *models.JobResult, error) {
	job := &models.Job{ID: g.newID(), Type: jobType, Payload: payload}

	attempts := g.opts.CompileAttempts
	switch jobType {
	case models.TypeCheckSyntax:
		attempts = g.opts.SyntaxAttempts
	case models.TypeCompileZip:
		attempts = g.opts.ProjectAttempts
	}

	res, err := g.SubmitAndAwait(ctx, job, g.opts.PollInterval, attempts)
	return job.ID, res, err
}

// CompileContent compiles a single document and returns the base64 PDF
func (g *Gateway) CompileContent(ctx context.Context, content string) (string, error) {
	var pdf string
	if err := g.await(ctx, models.TypeCompileContent, models.Payload{Content: content}, &pdf); err != nil {
		return "", err
	}
	return pdf, nil
}

// CompileZip compiles a zipped project and returns the worker-side PDF path
func (g *Gateway) CompileZip(ctx context.Context, zipURL string) (string, error) {
	var path string
	if err := g.await(ctx, models.TypeCompileZip, models.Payload{ZipURL: zipURL}, &path); err != nil {
		return "", err
	}
	return path, nil
}

// CheckSyntax lints a single document
func (g *Gateway) CheckSyntax(ctx context.Context, content string) ([]models.SyntaxIssue, error) {
	issues := []models.SyntaxIssue{}
	if err := g.await(ctx, models.TypeCheckSyntax, models.Payload{Content: content}, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (g *Gateway) await(ctx context.Context, jobType models.JobType, payload models.Payload, out any) error {
	id, res, err := g.Submit(ctx, jobType, payload)
	if err != nil {
		return err
	}
	return decode(id, res, out)
}

func decode(jobID string, res *models.JobResult, out any) error {
	switch res.Status {
	case models.StatusFailed:
		return &JobFailedError{JobID: jobID, Message: res.Error, Output: res.Logs}
	case models.StatusCompleted:
		if len(res.Result) == 0 {
			return fmt.Errorf("job %s completed without a result", jobID)
		}
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("job %s returned a malformed result: %w", jobID, err)
		}
		return nil
	default:
		return fmt.Errorf("job %s returned unknown status %q", jobID, res.Status)
	}
}
