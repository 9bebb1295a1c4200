package job

import (
	"fmt"
	"time"

	"codegen/internal/core/canvas"
	"codegen/internal/core/requirement"
	"codegen/internal/core/sandbox"
	"codegen/internal/core/sitespec"
	"codegen/internal/core/synth"
)

// Status for job tracking through the synthesis pipeline.
type Status string

const (
	StatusPending         Status = "pending"
	StatusParsing         Status = "parsing"
	StatusAnalyzing       Status = "analyzing"
	StatusGenerating      Status = "generating"
	StatusTesting         Status = "testing"
	StatusRefining        Status = "refining"
	StatusExecuting       Status = "executing"
	StatusRetrying        Status = "retrying"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusAwaitingClarify Status = "failed_awaiting_clarification"
)

// FailureClass is the error taxonomy carried on a failed or degraded job.
type FailureClass string

const (
	FailureNone      FailureClass = ""
	FailureParse     FailureClass = "parse_failure"
	FailureProbe     FailureClass = "probe_failure"
	FailureSelector  FailureClass = "selector_not_found"
	FailureMicroTest FailureClass = "micro_test_failure"
	FailureSandboxTO FailureClass = "sandbox_timeout"
	FailureExecution FailureClass = "execution_failure"
	FailureExhausted FailureClass = "tool_exhausted"
)

// CodegenJob is the aggregate root: one requirement, the current site spec,
// the append-only script history, the latest results, and a status that only
// changes through Transition.
type CodegenJob struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Prompt    string    `json:"prompt"`
	Title     string    `json:"title,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Requirement *requirement.Requirement `json:"requirement,omitempty"`
	SiteSpec    *sitespec.SiteSpec       `json:"site_spec,omitempty"`
	Scripts     []synth.Script           `json:"scripts,omitempty"`

	TestResult      *canvas.TestResult `json:"test_result,omitempty"`
	ExecutionResult *sandbox.Result    `json:"execution_result,omitempty"`

	Iteration    int                      `json:"iteration"`
	RetryRound   int                      `json:"retry_round"`
	Failure      FailureClass             `json:"failure,omitempty"`
	Errors       []string                 `json:"errors,omitempty"`
	PartialData  []map[string]interface{} `json:"partial_data,omitempty"`
	PendingQuery *synth.Clarification     `json:"pending_query,omitempty"`
}

// CurrentScript returns the most recent script version, which is always
// authoritative.
func (j *CodegenJob) CurrentScript() *synth.Script {
	if len(j.Scripts) == 0 {
		return nil
	}
	return &j.Scripts[len(j.Scripts)-1]
}

// AppendScript adds a new script version. Versions are strictly monotonic
// and never reordered.
func (j *CodegenJob) AppendScript(s synth.Script) {
	s.Version = len(j.Scripts) + 1
	j.Scripts = append(j.Scripts, s)
}

// transitions is the set of legal status edges.
var transitions = map[Status][]Status{
	StatusPending:         {StatusParsing, StatusFailed},
	StatusParsing:         {StatusAnalyzing, StatusFailed},
	StatusAnalyzing:       {StatusGenerating, StatusFailed},
	StatusGenerating:      {StatusTesting, StatusFailed},
	StatusTesting:         {StatusRefining, StatusExecuting, StatusCompleted, StatusFailed, StatusAwaitingClarify},
	StatusRefining:        {StatusTesting, StatusFailed, StatusAwaitingClarify},
	StatusExecuting:       {StatusCompleted, StatusRetrying, StatusFailed},
	StatusRetrying:        {StatusGenerating, StatusExecuting, StatusCompleted, StatusFailed},
	StatusAwaitingClarify: {StatusRefining, StatusFailed},
	StatusCompleted:       {},
	StatusFailed:          {},
}

// Transition moves the job to a new status, validating both the edge and the
// artifact invariant the target status implies. Every status mutation in the
// codebase goes through here.
func (j *CodegenJob) Transition(to Status) error {
	allowed, ok := transitions[j.Status]
	if !ok {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	legal := false
	for _, s := range allowed {
		if s == to {
			legal = true
			break
		}
	}
	if !legal {
		return fmt.Errorf("illegal transition %s -> %s", j.Status, to)
	}
	if err := j.checkArtifacts(to); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", j.Status, to, err)
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

// checkArtifacts enforces that a status and its most recent artifact stay
// mutually consistent.
func (j *CodegenJob) checkArtifacts(to Status) error {
	switch to {
	case StatusGenerating:
		if j.Requirement == nil {
			return fmt.Errorf("generating requires a parsed requirement")
		}
	case StatusTesting, StatusExecuting:
		if j.CurrentScript() == nil {
			return fmt.Errorf("%s requires a generated script", to)
		}
	case StatusRefining:
		if j.TestResult == nil {
			return fmt.Errorf("refining requires a test result")
		}
	case StatusAwaitingClarify:
		if j.PendingQuery == nil {
			return fmt.Errorf("awaiting clarification requires a pending question")
		}
	}
	return nil
}
