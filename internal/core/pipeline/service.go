package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"codegen/internal/config"
	"codegen/internal/core/job"
	"codegen/internal/core/mapper"
	"codegen/internal/core/probe"
	"codegen/internal/core/requirement"
	"codegen/internal/core/sandbox"
	"codegen/internal/core/synth"
	"codegen/internal/logger"
	"codegen/internal/platform/tasks"
)

const queueName = "codegen"

// Service orchestrates the whole synthesis pipeline: requirement analysis,
// site probing, selector scoring, script generation, the test-refine loop,
// full execution, and the adaptive retry rounds.
type Service struct {
	log     *logger.Logger
	cfg     config.Config
	jobs    *job.Service
	tasks   *tasks.Client
	parser  *requirement.Service
	prober  *probe.Service
	samples *mapper.Service
	scripts *synth.Service
	backend sandbox.Backend
}

func NewService(
	cfg config.Config,
	jobs *job.Service,
	taskClient *tasks.Client,
	parser *requirement.Service,
	prober *probe.Service,
	samples *mapper.Service,
	scripts *synth.Service,
	backend sandbox.Backend,
) *Service {
	return &Service{
		log:     logger.New("Pipeline"),
		cfg:     cfg,
		jobs:    jobs,
		tasks:   taskClient,
		parser:  parser,
		prober:  prober,
		samples: samples,
		scripts: scripts,
		backend: backend,
	}
}

type taskPayload struct {
	JobID string `json:"job_id"`
}

// Trace is the event shape published on the job channel for live observers.
type Trace struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (s *Service) trace(ctx context.Context, jobID, stage, format string, args ...interface{}) {
	s.jobs.PublishTrace(ctx, jobID, Trace{
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	})
}

// Enqueue validates the request, creates the pending job, and hands it to
// the worker queue.
func (s *Service) Enqueue(ctx context.Context, rawURL, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url: %q", rawURL)
	}

	jobID := uuid.NewString()
	if _, err := s.jobs.InitPending(ctx, jobID, rawURL, prompt); err != nil {
		return "", fmt.Errorf("init job: %w", err)
	}

	payload, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return "", err
	}
	if err := s.tasks.Enqueue(asynq.NewTask(tasks.TaskTypeCodegen, payload), queueName, s.cfg.TaskMaxRetries); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	s.log.LogInfof("Enqueued job %s for %s", jobID, rawURL)
	return jobID, nil
}

// HandleCodegenTask is the asynq handler for one pipeline run. Semantic
// failures end up on the job record, not as task errors, so asynq only
// retries infrastructure problems.
func (s *Service) HandleCodegenTask(ctx context.Context, t *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad task payload: %w", err)
	}
	j, err := s.jobs.Get(ctx, p.JobID)
	if err != nil {
		return err
	}
	switch j.Status {
	case job.StatusCompleted, job.StatusFailed, job.StatusAwaitingClarify:
		s.log.LogWarnf("Job %s already terminal (%s), skipping", j.ID, j.Status)
		return nil
	}

	s.run(ctx, j)
	return nil
}

// fail parks the job in the failed state with its failure class. Partial
// artifacts stay on the record.
func (s *Service) fail(ctx context.Context, j *job.CodegenJob, class job.FailureClass, err error) {
	j.Failure = class
	if err != nil {
		j.Errors = append(j.Errors, err.Error())
	}
	s.log.LogErrorf("Job %s failed (%s): %v", j.ID, class, err)
	s.trace(ctx, j.ID, "failed", "%s: %v", class, err)
	if aerr := s.jobs.Advance(ctx, j, job.StatusFailed); aerr != nil {
		s.log.LogErrorf("Could not park job %s as failed: %v", j.ID, aerr)
	}
}
