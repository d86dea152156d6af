package models

import (
	"encoding/json"
	"time"
)

// JobType selects which pipeline operation a worker runs for a job
type JobType string

const (
	// TypeCompileZip compiles a zipped multi-file project. The wire name is
	// "compile" for compatibility with existing producers.
	TypeCompileZip     JobType = "compile"
	TypeCompileContent JobType = "compile_content"
	TypeCheckSyntax    JobType = "check_syntax"
)

// Valid reports whether t is a job type the worker knows how to dispatch
func (t JobType) Valid() bool {
	switch t {
	case TypeCompileZip, TypeCompileContent, TypeCheckSyntax:
		return true
	}
	return false
}

// JobStatus represents the current state of a job in the system
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Payload carries the kind-specific input of a job
type Payload struct {
	ZipURL  string `json:"zipUrl,omitempty"`
	Content string `json:"content,omitempty"`
}

// Job is one unit of compile or lint work placed on the queue
type Job struct {
	ID      string  `json:"id"`
	Type    JobType `json:"type"`
	Payload Payload `json:"payload"`
}

// JobResult is the outcome of processing a job, retrievable once by id
type JobResult struct {
	Status JobStatus `json:"status"`
	// Result is a JSON string (base64 PDF or PDF path) or a JSON array of
	// SyntaxIssue, depending on the job type.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Logs   string          `json:"logs,omitempty"`
}

// Completed builds a completed result with v marshaled as the result payload
func Completed(v any) (*JobResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &JobResult{Status: StatusCompleted, Result: raw}, nil
}

// Failed builds a failed result
func Failed(message, logs string) *JobResult {
	return &JobResult{Status: StatusFailed, Error: message, Logs: logs}
}

// SyntaxIssue is one diagnostic reported by the syntax linter
type SyntaxIssue struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file"`
}

// JobEvent is broadcast to observers whenever a job changes state
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Type      JobType   `json:"job_type"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
