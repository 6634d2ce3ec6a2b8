// Package queue is the redis-backed job queue between the API and the
// ingest workers. One job is one asset id; a job is claimed, processed to
// completion and never checkpointed mid-flight.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const ingestKey = "ingest:queue"

// ErrEmpty is returned by Claim when no job arrived within the timeout.
var ErrEmpty = errors.New("queue empty")

// Queue dispatches ingest jobs through a redis list.
type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes an asset id for processing.
func (q *Queue) Enqueue(ctx context.Context, assetID string) error {
	return q.rdb.LPush(ctx, ingestKey, assetID).Err()
}

// Claim blocks up to timeout for the next asset id.
func (q *Queue) Claim(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, ingestKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", err
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", ErrEmpty
	}
	return res[1], nil
}

// Len reports the queue depth, for observability endpoints.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, ingestKey).Result()
}
