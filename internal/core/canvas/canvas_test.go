package canvas_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen/internal/core/canvas"
	"codegen/internal/core/sandbox"
	"codegen/internal/core/synth"
)

type stubSampler struct {
	results []*sandbox.Result
	calls   int
}

func (s *stubSampler) RunSample(_ context.Context, _ *synth.Script) (*sandbox.Result, error) {
	if s.calls >= len(s.results) {
		s.calls++
		return &sandbox.Result{Success: false, Errors: []string{"no more canned results"}}, nil
	}
	r := s.results[s.calls]
	s.calls++
	return r, nil
}

type stubRefiner struct {
	calls int
	err   error
}

func (r *stubRefiner) RefineScript(_ context.Context, prev *synth.Script, _ []string, _ string) (*synth.Script, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	next := *prev
	next.Version = prev.Version + 1
	return &next, nil
}

type stubClarifier struct {
	questions []synth.Clarification
	calls     int
}

func (c *stubClarifier) ClarifyFailure(_ context.Context, _ []string) ([]synth.Clarification, string, error) {
	c.calls++
	return c.questions, "stub reasoning", nil
}

func script() *synth.Script {
	return &synth.Script{
		Version:    1,
		Tool:       "playwright",
		SampleCode: "async function runExtraction() {}",
		FullCode:   "async function runExtraction() {}",
	}
}

func passing(n int) *sandbox.Result {
	data := make([]map[string]interface{}, n)
	for i := range data {
		data[i] = map[string]interface{}{"name": "item"}
	}
	return &sandbox.Result{Success: true, Data: data, TotalFound: n}
}

func TestLoopPassesOnFirstSuccess(t *testing.T) {
	t.Parallel()

	sampler := &stubSampler{results: []*sandbox.Result{passing(3)}}
	refiner := &stubRefiner{}
	loop := canvas.NewLoop(sampler, refiner, &stubClarifier{}, 2)

	out, err := loop.Run(context.Background(), script())
	require.NoError(t, err)

	assert.True(t, out.Passed)
	assert.Equal(t, 1, out.Iterations)
	assert.Len(t, out.Result.Sample, 3)
	assert.Equal(t, 0, refiner.calls, "a passing test must not trigger refinement")
}

func TestLoopRespectsIterationBound(t *testing.T) {
	t.Parallel()

	for _, max := range []int{1, 2, 3} {
		sampler := &stubSampler{}
		refiner := &stubRefiner{}
		loop := canvas.NewLoop(sampler, refiner, &stubClarifier{}, max)

		out, err := loop.Run(context.Background(), script())
		require.NoError(t, err)

		assert.False(t, out.Passed)
		assert.Equal(t, max, out.Iterations)
		assert.Equal(t, max, sampler.calls, "one sample run per iteration")
		assert.Equal(t, max-1, refiner.calls, "no refinement after the last test")
		assert.NotNil(t, out.PendingQuestion, "exhaustion must surface a question")
	}
}

func TestLoopZeroItemsProducesChoiceQuestion(t *testing.T) {
	t.Parallel()

	// A run that reports success but finds nothing is still a failed test.
	sampler := &stubSampler{results: []*sandbox.Result{
		{Success: true, Data: nil, TotalFound: 0},
	}}
	clarifier := &stubClarifier{questions: []synth.Clarification{
		{Question: "Describe the data you want", Type: "text"},
		{Question: "Is the list behind a login?", Type: "boolean"},
	}}
	loop := canvas.NewLoop(sampler, &stubRefiner{}, clarifier, 1)

	out, err := loop.Run(context.Background(), script())
	require.NoError(t, err)

	assert.False(t, out.Passed)
	require.NotNil(t, out.Result.Clarification)
	assert.Contains(t, []string{"multiple_choice", "boolean"}, out.Result.Clarification.Type,
		"the attached question must be answerable with a click")
	assert.True(t, out.Result.NeedsRefinement)
	assert.Contains(t, out.Result.Errors, "sample run returned zero items")
}

func TestLoopAttachesExactlyOneQuestionPerFailure(t *testing.T) {
	t.Parallel()

	clarifier := &stubClarifier{questions: []synth.Clarification{
		{Question: "Which section holds the listings?", Type: "multiple_choice", Options: []string{"main", "sidebar"}},
		{Question: "Should we scroll?", Type: "boolean"},
	}}
	sampler := &stubSampler{}
	loop := canvas.NewLoop(sampler, &stubRefiner{}, clarifier, 3)

	out, err := loop.Run(context.Background(), script())
	require.NoError(t, err)

	assert.Equal(t, 3, clarifier.calls, "one clarify call per failed test")
	require.NotNil(t, out.Result.Clarification)
	assert.Equal(t, "multiple_choice", out.Result.Clarification.Type)
	assert.Equal(t, []string{"main", "sidebar"}, out.Result.Clarification.Options)
}

func TestLoopFallbackQuestionWhenClarifierEmpty(t *testing.T) {
	t.Parallel()

	loop := canvas.NewLoop(&stubSampler{}, &stubRefiner{}, &stubClarifier{}, 1)

	out, err := loop.Run(context.Background(), script())
	require.NoError(t, err)

	require.NotNil(t, out.PendingQuestion)
	assert.Equal(t, "boolean", out.PendingQuestion.Type)
}

func TestLoopStopsWhenRefinementFails(t *testing.T) {
	t.Parallel()

	sampler := &stubSampler{}
	refiner := &stubRefiner{err: errors.New("model unavailable")}
	loop := canvas.NewLoop(sampler, refiner, &stubClarifier{}, 3)

	out, err := loop.Run(context.Background(), script())
	require.NoError(t, err)

	assert.False(t, out.Passed)
	assert.Equal(t, 1, sampler.calls)
	assert.NotNil(t, out.PendingQuestion)
}

func TestLoopRecordsNewScriptVersions(t *testing.T) {
	t.Parallel()

	sampler := &stubSampler{results: []*sandbox.Result{
		{Success: false, Errors: []string{"selector matched nothing"}},
		passing(2),
	}}
	var states []canvas.State
	var refiningResult *canvas.TestResult
	loop := canvas.NewLoop(sampler, &stubRefiner{}, &stubClarifier{}, 3,
		canvas.WithObserver(func(s canvas.State, _ int, tr *canvas.TestResult) {
			states = append(states, s)
			if s == canvas.StateRefining {
				refiningResult = tr
			}
		}),
		canvas.WithAutoFeedback(true),
	)

	out, err := loop.Run(context.Background(), script())
	require.NoError(t, err)

	assert.True(t, out.Passed)
	require.Len(t, out.NewScripts, 1)
	assert.Equal(t, 2, out.NewScripts[0].Version)
	assert.Equal(t, []canvas.State{canvas.StateTesting, canvas.StateRefining, canvas.StateTesting}, states)
	require.NotNil(t, refiningResult, "the failed test travels with the refining transition")
	assert.Contains(t, refiningResult.Errors, "selector matched nothing")
}
