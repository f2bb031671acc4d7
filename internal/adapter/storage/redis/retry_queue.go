package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RetryQueue implements ports.RetryQueue as a sorted set scored by due time
// in Unix milliseconds. Members are "<delivery id>|<attempt>".
type RetryQueue struct {
	client *goredis.Client
	key    string
}

// NewRetryQueue creates a Redis-backed retry queue.
func NewRetryQueue(client *goredis.Client, prefix string) *RetryQueue {
	return &RetryQueue{
		client: client,
		key:    prefix + "webhook:retries",
	}
}

// Schedule adds a task. Scheduling the same attempt twice only moves its due time.
func (q *RetryQueue) Schedule(ctx context.Context, task ports.RetryTask) error {
	err := q.client.ZAdd(ctx, q.key, goredis.Z{
		Score:  float64(task.DueAt.UnixMilli()),
		Member: retryMember(task.DeliveryID, task.Attempt),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis retry schedule: %w", err)
	}
	return nil
}

// ClaimDue pops due tasks. ZREM decides ownership, so concurrent pollers
// never receive the same task.
func (q *RetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ports.RetryTask, error) {
	due, err := q.client.ZRangeByScoreWithScores(ctx, q.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis retry range: %w", err)
	}

	tasks := make([]ports.RetryTask, 0, len(due))
	for _, z := range due {
		member, _ := z.Member.(string)
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return tasks, fmt.Errorf("redis retry claim: %w", err)
		}
		if removed == 0 {
			continue
		}
		id, attempt, err := parseRetryMember(member)
		if err != nil {
			continue
		}
		tasks = append(tasks, ports.RetryTask{
			DeliveryID: id,
			Attempt:    attempt,
			DueAt:      time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return tasks, nil
}

func retryMember(id uuid.UUID, attempt int) string {
	return id.String() + "|" + strconv.Itoa(attempt)
}

func parseRetryMember(member string) (uuid.UUID, int, error) {
	idPart, attemptPart, ok := strings.Cut(member, "|")
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("malformed retry member %q", member)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, 0, err
	}
	attempt, err := strconv.Atoi(attemptPart)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return id, attempt, nil
}
