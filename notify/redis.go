package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes messages as JSON jobs onto a Redis list. The mail worker
// pops from the other end, so the API never talks to the e-mail provider.
type RedisQueue struct {
	rdb   *redis.Client
	queue string
	now   func() time.Time
}

type job struct {
	Message
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRedisQueue connects to url and verifies the connection.
func NewRedisQueue(ctx context.Context, url, queue string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("notify: connect redis: %w", err)
	}

	return newRedisQueue(rdb, queue), nil
}

func newRedisQueue(rdb *redis.Client, queue string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queue: queue, now: time.Now}
}

// Send enqueues msg.
func (q *RedisQueue) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(job{Message: msg, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("notify: encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
