package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Satyampatil513/resume-editor/models"
)

// RedisQueue keeps jobs in a Redis list (LPUSH to enqueue, RPOP to
// dequeue) and results in expiring string keys.
type RedisQueue struct {
	client redis.UniversalClient
	keys   Keys
}

// NewRedisQueue wraps an existing client
func NewRedisQueue(client redis.UniversalClient, keys Keys) *RedisQueue {
	return &RedisQueue{client: client, keys: keys.withDefaults()}
}

// DialRedis connects to the server described by a redis:// or rediss:// URL
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return client, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.keys.Queue, data).Err(); err != nil {
		return fmt.Errorf("%w: lpush: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	data, err := q.client.RPop(ctx, q.keys.Queue).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("%w: rpop: %v", ErrUnavailable, err)
	}
	return decodeJob(data)
}

func (q *RedisQueue) PublishResult(ctx context.Context, jobID string, result *models.JobResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	if err := q.client.Set(ctx, q.keys.ResultKey(jobID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *RedisQueue) ConsumeResult(ctx context.Context, jobID string) (*models.JobResult, error) {
	data, err := q.client.GetDel(ctx, q.keys.ResultKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getdel: %v", ErrUnavailable, err)
	}
	return decodeResult(data)
}
