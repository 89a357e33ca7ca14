package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	jobStatusKey = "worker:job:%s"
	jobStatusTTL = 30 * time.Minute
)

type redisCommands interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// StatusCache mirrors job statuses into redis so pollers can find jobs
// after a restart. A nil cache is a no-op.
type StatusCache struct {
	client redisCommands
}

func NewStatusCache(client redisCommands) *StatusCache {
	if client == nil {
		return nil
	}
	return &StatusCache{client: client}
}

func (c *StatusCache) store(ctx context.Context, status JobStatus) {
	if c == nil || c.client == nil {
		return
	}
	encoded, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, fmt.Sprintf(jobStatusKey, status.ID), string(encoded), jobStatusTTL)
}

func (c *StatusCache) load(ctx context.Context, id string) (JobStatus, bool) {
	if c == nil || c.client == nil {
		return JobStatus{}, false
	}
	raw, err := c.client.Get(ctx, fmt.Sprintf(jobStatusKey, id))
	if err != nil {
		return JobStatus{}, false
	}
	var status JobStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return JobStatus{}, false
	}
	return status, true
}
