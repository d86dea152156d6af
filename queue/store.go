// Package queue holds compile jobs until the worker pops them and keeps
// their results for a short time until the producer reads them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Satyampatil513/resume-editor/models"
)

var (
	// ErrEmpty is returned by Dequeue when no job is waiting
	ErrEmpty = errors.New("no pending jobs available")
	// ErrNoResult is returned by ConsumeResult when the result is absent or expired
	ErrNoResult = errors.New("no result available")
	// ErrUnavailable wraps transport or backend failures of the store
	ErrUnavailable = errors.New("queue unavailable")
	// ErrMalformedJob means a popped entry could not be decoded; it is dropped
	ErrMalformedJob = errors.New("malformed job")
)

const (
	DefaultQueueKey     = "compile_queue"
	DefaultResultPrefix = "job_result:"
	DefaultResultTTL    = 5 * time.Minute
)

// Store is a FIFO job list plus a short-lived result store, both addressed
// by job id. Implementations must be safe for concurrent use.
type Store interface {
	// Enqueue appends job to the tail of the list
	Enqueue(ctx context.Context, job *models.Job) error
	// Dequeue pops the oldest job, or returns ErrEmpty
	Dequeue(ctx context.Context) (*models.Job, error)
	// PublishResult stores result under the job id for ttl
	PublishResult(ctx context.Context, jobID string, result *models.JobResult, ttl time.Duration) error
	// ConsumeResult reads and deletes a result, or returns ErrNoResult
	ConsumeResult(ctx context.Context, jobID string) (*models.JobResult, error)
}

// Keys names the list and result keys of key/value backends
type Keys struct {
	Queue        string
	ResultPrefix string
}

// DefaultKeys matches the key layout existing producers use
func DefaultKeys() Keys {
	return Keys{Queue: DefaultQueueKey, ResultPrefix: DefaultResultPrefix}
}

func (k Keys) withDefaults() Keys {
	if k.Queue == "" {
		k.Queue = DefaultQueueKey
	}
	if k.ResultPrefix == "" {
		k.ResultPrefix = DefaultResultPrefix
	}
	return k
}

// ResultKey returns the key a job's result is stored under
func (k Keys) ResultKey(jobID string) string {
	return k.ResultPrefix + jobID
}

func encodeJob(job *models.Job) ([]byte, error) {
	if job == nil || job.ID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	return json.Marshal(job)
}

func decodeJob(data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedJob)
	}
	return &job, nil
}

func decodeResult(data []byte) (*models.JobResult, error) {
	var res models.JobResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
	}
	return &res, nil
}
