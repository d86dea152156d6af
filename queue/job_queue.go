package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Satyampatil513/resume-editor/models"
)

// JobRecord tracks the lifecycle of a job submitted to a MemoryQueue
type JobRecord struct {
	ID           string           `json:"id"`
	Type         models.JobType   `json:"type"`
	Status       models.JobStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    time.Time        `json:"started_at,omitempty"`
	CompletedAt  time.Time        `json:"completed_at,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	expiresAt time.Time
}

// DefaultRecordTTL bounds how long a dequeued job stays listed without a
// published result.
const DefaultRecordTTL = 30 * time.Minute

type storedResult struct {
	result    models.JobResult
	expiresAt time.Time
}

// MemoryQueue is an in-process Store. Besides the queue and results it
// keeps a status record per job until its result expires.
type MemoryQueue struct {
	mu       sync.RWMutex
	pending  []*models.Job
	results  map[string]storedResult
	jobsByID map[string]*JobRecord
	// recordTTL applies to records from Dequeue until PublishResult
	recordTTL time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewMemoryQueue creates a new instance of MemoryQueue
func NewMemoryQueue(logger *zap.Logger) *MemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{
		pending:   make([]*models.Job, 0),
		results:   make(map[string]storedResult),
		jobsByID:  make(map[string]*JobRecord),
		recordTTL: DefaultRecordTTL,
		now:       time.Now,
		logger:    logger,
	}
}

// Enqueue adds a new job to the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if _, err := encodeJob(job); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cp := *job
	q.pending = append(q.pending, &cp)
	q.jobsByID[job.ID] = &JobRecord{
		ID:        job.ID,
		Type:      job.Type,
		Status:    models.StatusQueued,
		CreatedAt: q.now(),
	}

	q.logger.Debug("job enqueued", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

// Dequeue gets the next pending job and marks it as processing
func (q *MemoryQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, ErrEmpty
	}

	now := q.now()
	q.purgeLocked(now)

	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	if rec, ok := q.jobsByID[job.ID]; ok {
		rec.Status = models.StatusProcessing
		rec.StartedAt = now
		rec.expiresAt = now.Add(q.recordTTL)
	}
	return job, nil
}

// PublishResult stores the result of a job and marks it completed or failed
func (q *MemoryQueue) PublishResult(ctx context.Context, jobID string, result *models.JobResult, ttl time.Duration) error {
	if result == nil {
		return fmt.Errorf("result for job %s is nil", jobID)
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.purgeLocked(now)

	q.results[jobID] = storedResult{result: *result, expiresAt: now.Add(ttl)}
	if rec, ok := q.jobsByID[jobID]; ok {
		rec.Status = result.Status
		rec.CompletedAt = now
		rec.ErrorMessage = result.Error
		rec.expiresAt = now.Add(ttl)
	}
	return nil
}

// ConsumeResult returns a job's result and removes it
func (q *MemoryQueue) ConsumeResult(ctx context.Context, jobID string) (*models.JobResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.results[jobID]
	if !ok {
		return nil, ErrNoResult
	}
	delete(q.results, jobID)
	if !q.now().Before(stored.expiresAt) {
		return nil, ErrNoResult
	}

	res := stored.result
	return &res, nil
}

// GetJob retrieves a job record by ID
func (q *MemoryQueue) GetJob(jobID string) (*JobRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	rec, exists := q.jobsByID[jobID]
	if !exists || q.expired(rec) {
		return nil, fmt.Errorf("job %s not found", jobID)
	}

	cp := *rec
	return &cp, nil
}

// GetJobs returns copies of the job records with the given status, or of
// all records when status is empty
func (q *MemoryQueue) GetJobs(status models.JobStatus) []*JobRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs := make([]*JobRecord, 0, len(q.jobsByID))
	for _, rec := range q.jobsByID {
		if q.expired(rec) || (status != "" && rec.Status != status) {
			continue
		}
		cp := *rec
		jobs = append(jobs, &cp)
	}
	return jobs
}

// Len returns the number of jobs waiting to be popped
func (q *MemoryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending)
}

func (q *MemoryQueue) expired(rec *JobRecord) bool {
	return !rec.expiresAt.IsZero() && !q.now().Before(rec.expiresAt)
}

// purgeLocked drops expired results and records. Callers hold q.mu.
func (q *MemoryQueue) purgeLocked(now time.Time) {
	for id, stored := range q.results {
		if !now.Before(stored.expiresAt) {
			delete(q.results, id)
		}
	}
	for id, rec := range q.jobsByID {
		if !rec.expiresAt.IsZero() && !now.Before(rec.expiresAt) {
			delete(q.jobsByID, id)
		}
	}
}
