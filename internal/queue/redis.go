package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	ReportKeyPrefix = "stride:runs:"

	DefaultMaxReports int64 = 100
)

// ReportKey is the redis list holding the reports of a task, oldest first
func ReportKey(task string) string {
	return ReportKeyPrefix + task
}

// RedisClient implements Client using Redis
type RedisClient struct {
	client     *redis.Client
	maxReports int64
}

// NewRedisClient creates a new Redis report client keeping the last maxReports reports of
// every task
func NewRedisClient(addr, password string, db int, maxReports int64) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "could not connect to redis at %s", addr)
	}

	if maxReports <= 0 {
		maxReports = DefaultMaxReports
	}
	return &RedisClient{client: client, maxReports: maxReports}, nil
}

// Publish appends a report to the task's list and trims the list to the newest reports
func (r *RedisClient) Publish(ctx context.Context, report RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "could not marshal run report")
	}

	key := ReportKey(report.Task)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -r.maxReports, -1)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "could not publish run report to %s", key)
	}

	log.Debug().
		Str("run_id", report.RunID).
		Str("task", report.Task).
		Msg("Run report published")
	return nil
}

// Latest returns up to n reports of a task, newest first
func (r *RedisClient) Latest(ctx context.Context, task string, n int64) ([]RunReport, error) {
	if n <= 0 || n > r.maxReports {
		n = r.maxReports
	}

	key := ReportKey(task)
	items, err := r.client.LRange(ctx, key, -n, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "could not read run reports from %s", key)
	}

	reports := make([]RunReport, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var report RunReport
		if err := json.Unmarshal([]byte(items[i]), &report); err != nil {
			// Invalid report, this shouldn't usually happen
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable run report")
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Close terminates the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
