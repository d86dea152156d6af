package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Satyampatil513/resume-editor/models"
	"github.com/Satyampatil513/resume-editor/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastOptions() Options {
	return Options{PollInterval: time.Millisecond, CompileAttempts: 200, SyntaxAttempts: 200, ProjectAttempts: 200}
}

// answer pops the next job and publishes res for it, simulating a worker
func answer(t *testing.T, q *queue.MemoryQueue, res *models.JobResult) {
	t.Helper()
	require.Eventually(t, func() bool { return q.Len() > 0 }, time.Second, time.Millisecond)
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.PublishResult(context.Background(), job.ID, res, time.Minute))
}

func TestSubmitAndAwaitReturnsResult(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	g := New(q, fastOptions(), nil)
	g.newID = func() string { return "fixed-id" }

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, _ := models.Completed("UERG")
		answer(t, q, res)
	}()

	pdf, err := g.CompileContent(context.Background(), "\\documentclass{article}")
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "UERG", pdf)

	_, err = q.ConsumeResult(context.Background(), "fixed-id")
	assert.ErrorIs(t, err, queue.ErrNoResult)
}

func TestSubmitAndAwaitFailureCarriesLogs(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	g := New(q, fastOptions(), nil)

	go answer(t, q, models.Failed("pdflatex: tool reported failure (exit 1)", "! Undefined control sequence."))

	_, err := g.CompileContent(context.Background(), "\\foo")
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "! Undefined control sequence.", failed.Logs())
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestCheckSyntaxDecodesIssues(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	g := New(q, fastOptions(), nil)

	go func() {
		res, _ := models.Completed([]models.SyntaxIssue{{Line: 4, Column: 2, Code: "18", Message: "Use either `` or '' as an alternative to `\"'.", File: "main.tex"}})
		answer(t, q, res)
	}()

	issues, err := g.CheckSyntax(context.Background(), "\"quoted\"")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 4, issues[0].Line)
}

func TestTimeoutDoesNotLoseJob(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(nil)
	g := New(q, fastOptions(), nil)

	job := &models.Job{ID: "slow-1", Type: models.TypeCompileContent, Payload: models.Payload{Content: "x"}}
	_, err := g.SubmitAndAwait(ctx, job, time.Millisecond, 1)
	require.ErrorIs(t, err, ErrTimeout)

	// The worker finishes after the caller gave up.
	popped, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slow-1", popped.ID)
	res, _ := models.Completed("UERG")
	require.NoError(t, q.PublishResult(ctx, popped.ID, res, time.Minute))

	got, err := q.ConsumeResult(ctx, "slow-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestSubmitAndAwaitHonoursContext(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	g := New(q, fastOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	job := &models.Job{ID: "ctx-1", Type: models.TypeCheckSyntax}
	_, err := g.SubmitAndAwait(ctx, job, 5*time.Millisecond, 1000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type downStore struct{ queue.Store }

func (downStore) Enqueue(context.Context, *models.Job) error { return queue.ErrUnavailable }

func TestEnqueueFailureIsReported(t *testing.T) {
	g := New(downStore{}, fastOptions(), nil)
	_, err := g.CompileContent(context.Background(), "x")
	assert.ErrorIs(t, err, queue.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestDecodeMalformedResult(t *testing.T) {
	var out string
	err := decode("j", &models.JobResult{Status: models.StatusCompleted, Result: []byte(`[1,2]`)}, &out)
	assert.Error(t, err)

	err = decode("j", &models.JobResult{Status: "cancelled"}, &out)
	assert.Error(t, err)

	err = decode("j", &models.JobResult{Status: models.StatusCompleted}, &out)
	assert.Error(t, err)
}
