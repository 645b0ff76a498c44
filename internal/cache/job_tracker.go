package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"nexora-chat/internal/model"
)

// JobTracker keeps the latest status of each ingestion job in redis. Entries
// expire after the configured TTL.
type JobTracker struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewJobTracker(client *redisv9.Client, ttl time.Duration) *JobTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobTracker{
		client: client,
		ttl:    ttl,
	}
}

func (t *JobTracker) Set(ctx context.Context, status model.JobStatus) error {
	if status.ID == "" {
		return errors.New("job status without id")
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal job status failed: %w", err)
	}
	if err := t.client.Set(ctx, jobKey(status.ID), payload, t.ttl).Err(); err != nil {
		return fmt.Errorf("redis set job status failed: %w", err)
	}
	return nil
}

// Get returns false when the job is unknown or its status has expired.
func (t *JobTracker) Get(ctx context.Context, id string) (*model.JobStatus, bool, error) {
	raw, err := t.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get job status failed: %w", err)
	}

	var status model.JobStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, false, fmt.Errorf("unmarshal job status failed: %w", err)
	}
	return &status, true, nil
}

func jobKey(id string) string {
	return "ingest:job:" + id
}
