package job_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen/internal/core/canvas"
	"codegen/internal/core/job"
	"codegen/internal/core/requirement"
	"codegen/internal/core/synth"
)

func newJob(status job.Status) *job.CodegenJob {
	return &job.CodegenJob{
		ID:     "job-1",
		URL:    "https://example.com/directory",
		Prompt: "extract all company names",
		Status: status,
	}
}

func withArtifacts(j *job.CodegenJob) *job.CodegenJob {
	j.Requirement = &requirement.Requirement{Target: "companies"}
	j.AppendScript(synth.Script{Tool: "playwright", SampleCode: "x", FullCode: "x"})
	j.TestResult = &canvas.TestResult{Success: false}
	j.PendingQuery = &synth.Clarification{Question: "q", Type: "boolean"}
	return j
}

func TestTransitionLegalEdges(t *testing.T) {
	t.Parallel()

	path := []job.Status{
		job.StatusParsing,
		job.StatusAnalyzing,
		job.StatusGenerating,
		job.StatusTesting,
		job.StatusRefining,
		job.StatusTesting,
		job.StatusExecuting,
		job.StatusRetrying,
		job.StatusExecuting,
		job.StatusCompleted,
	}

	j := withArtifacts(newJob(job.StatusPending))
	for _, next := range path {
		require.NoError(t, j.Transition(next), "to %s", next)
		assert.Equal(t, next, j.Status)
	}
}

func TestTransitionIllegalEdges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to job.Status
	}{
		{job.StatusPending, job.StatusExecuting},
		{job.StatusParsing, job.StatusTesting},
		{job.StatusExecuting, job.StatusRefining},
		{job.StatusCompleted, job.StatusRetrying},
		{job.StatusFailed, job.StatusPending},
		{job.StatusAwaitingClarify, job.StatusExecuting},
	}
	for _, tc := range tests {
		j := withArtifacts(newJob(tc.from))
		err := j.Transition(tc.to)
		require.Error(t, err, "%s -> %s must be illegal", tc.from, tc.to)
		assert.Equal(t, tc.from, j.Status, "status must not change on rejection")
	}
}

func TestTransitionArtifactInvariants(t *testing.T) {
	t.Parallel()

	t.Run("generating requires a requirement", func(t *testing.T) {
		t.Parallel()
		j := newJob(job.StatusAnalyzing)
		require.Error(t, j.Transition(job.StatusGenerating))
		j.Requirement = &requirement.Requirement{Target: "companies"}
		require.NoError(t, j.Transition(job.StatusGenerating))
	})

	t.Run("testing requires a script", func(t *testing.T) {
		t.Parallel()
		j := newJob(job.StatusGenerating)
		j.Requirement = &requirement.Requirement{Target: "companies"}
		require.Error(t, j.Transition(job.StatusTesting))
		j.AppendScript(synth.Script{Tool: "playwright"})
		require.NoError(t, j.Transition(job.StatusTesting))
	})

	t.Run("refining requires a test result", func(t *testing.T) {
		t.Parallel()
		j := newJob(job.StatusTesting)
		j.AppendScript(synth.Script{Tool: "playwright"})
		require.Error(t, j.Transition(job.StatusRefining))
		j.TestResult = &canvas.TestResult{}
		require.NoError(t, j.Transition(job.StatusRefining))
	})

	t.Run("awaiting clarification requires a question", func(t *testing.T) {
		t.Parallel()
		j := newJob(job.StatusTesting)
		j.AppendScript(synth.Script{Tool: "playwright"})
		require.Error(t, j.Transition(job.StatusAwaitingClarify))
		j.PendingQuery = &synth.Clarification{Question: "q", Type: "boolean"}
		require.NoError(t, j.Transition(job.StatusAwaitingClarify))
	})
}

func TestAppendScriptVersionsAreMonotonic(t *testing.T) {
	t.Parallel()

	j := newJob(job.StatusPending)
	assert.Nil(t, j.CurrentScript())

	// Declared versions are ignored, append order wins.
	j.AppendScript(synth.Script{Version: 99, Tool: "playwright"})
	j.AppendScript(synth.Script{Version: 1, Tool: "stagehand"})
	j.AppendScript(synth.Script{Tool: "hybrid"})

	require.Len(t, j.Scripts, 3)
	for i, s := range j.Scripts {
		assert.Equal(t, i+1, s.Version)
	}
	assert.Equal(t, "hybrid", j.CurrentScript().Tool)
}
