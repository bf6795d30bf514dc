package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const runTTL = 24 * time.Hour

// RedisLedger keeps run records in Redis with a 24h retention.
type RedisLedger struct {
	redis *redis.Client
}

// NewRedisLedger connects and pings before returning.
func NewRedisLedger(redisURL string) (*RedisLedger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisLedger{redis: client}, nil
}

func runKey(id string) string { return fmt.Sprintf("run:%s", id) }

const runIndexKey = "runs:recent"

func (l *RedisLedger) Save(ctx context.Context, run Run) error {
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := l.redis.Set(ctx, runKey(run.ID), data, runTTL).Err(); err != nil {
		return err
	}
	return l.redis.ZAdd(ctx, runIndexKey, redis.Z{Score: float64(run.CreatedAt), Member: run.ID}).Err()
}

func (l *RedisLedger) Get(ctx context.Context, id string) (Run, error) {
	data, err := l.redis.Get(ctx, runKey(id)).Bytes()
	if err == redis.Nil {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (l *RedisLedger) List(ctx context.Context) ([]Run, error) {
	ids, err := l.redis.ZRevRange(ctx, runIndexKey, 0, 99).Result()
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		run, err := l.Get(ctx, id)
		if err != nil {
			// Expired record still indexed; skip it.
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (l *RedisLedger) Close() error {
	return l.redis.Close()
}
