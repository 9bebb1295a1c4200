package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	rds "codegen/internal/platform/redis"
)

type Service struct{ redis *rds.Service }

func NewService(redis *rds.Service) *Service { return &Service{redis: redis} }

// Get loads a job by id.
func (s *Service) Get(ctx context.Context, jobID string) (*CodegenJob, error) {
	var j CodegenJob
	if err := s.redis.CacheGet(ctx, key(jobID), &j); err != nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return &j, nil
}

// Save persists the job with a status-dependent TTL and notifies SSE
// listeners on the job channel.
func (s *Service) Save(ctx context.Context, j *CodegenJob) error {
	if err := s.redis.CacheSet(ctx, key(j.ID), j, ttl(j.Status)); err != nil {
		return err
	}
	_ = s.redis.Client().Publish(ctx, key(j.ID), "updated").Err()
	return nil
}

// InitPending creates the initial job record.
func (s *Service) InitPending(ctx context.Context, jobID, url, prompt string) (*CodegenJob, error) {
	j := &CodegenJob{
		ID:        jobID,
		URL:       url,
		Prompt:    prompt,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.Save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Advance transitions the job and persists it in one step.
func (s *Service) Advance(ctx context.Context, j *CodegenJob, to Status) error {
	if err := j.Transition(to); err != nil {
		return err
	}
	return s.Save(ctx, j)
}

// PublishTrace publishes a structured trace event to the job's channel for
// SSE forwarding. Trace delivery is best-effort.
func (s *Service) PublishTrace(ctx context.Context, jobID string, event interface{}) {
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = s.redis.Client().Publish(ctx, key(jobID), "trace:"+string(b)).Err()
}

// Subscribe opens the job's update/trace channel for SSE forwarding.
func (s *Service) Subscribe(ctx context.Context, jobID string) *redisv8.PubSub {
	return s.redis.Subscribe(ctx, key(jobID))
}

func key(id string) string { return "job:" + id }

func ttl(s Status) int {
	if s == StatusCompleted || s == StatusFailed || s == StatusAwaitingClarify {
		return 3600
	}
	return 600
}
