package canvas

import (
	"context"
	"fmt"

	"codegen/internal/core/sandbox"
	"codegen/internal/core/synth"
	"codegen/internal/logger"
)

// State names the loop's position for observers.
type State string

const (
	StateTesting  State = "testing"
	StateRefining State = "refining"
)

// TestResult is the outcome of one micro-test: a bounded sample-scale run
// used to validate a script before committing to a full run.
type TestResult struct {
	Success         bool                     `json:"success"`
	Sample          []map[string]interface{} `json:"sample,omitempty"`
	Errors          []string                 `json:"errors,omitempty"`
	NeedsRefinement bool                     `json:"needs_refinement"`
	Clarification   *synth.Clarification     `json:"clarification,omitempty"`
}

// Sampler runs the sample variant of a script with a small item cap and a
// short timeout.
type Sampler interface {
	RunSample(ctx context.Context, script *synth.Script) (*sandbox.Result, error)
}

// Refiner produces the next script version from a failed test.
type Refiner interface {
	RefineScript(ctx context.Context, prev *synth.Script, testErrors []string, feedback string) (*synth.Script, error)
}

// Clarifier phrases a failed test as user-answerable questions.
type Clarifier interface {
	ClarifyFailure(ctx context.Context, testErrors []string) ([]synth.Clarification, string, error)
}

// Loop is the test-refine state machine bounding synthesis attempts.
type Loop struct {
	sampler   Sampler
	refiner   Refiner
	clarifier Clarifier

	maxIterations int
	autoFeedback  bool
	observer      func(state State, iteration int, tr *TestResult)
	log           *logger.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithObserver registers a callback invoked on every state entry. The result
// argument carries the failed test when entering refinement, nil otherwise.
func WithObserver(fn func(state State, iteration int, tr *TestResult)) Option {
	return func(l *Loop) { l.observer = fn }
}

// WithAutoFeedback lets the loop refine with a synthetic feedback string
// when no human is available to answer the clarifying question.
func WithAutoFeedback(enabled bool) Option {
	return func(l *Loop) { l.autoFeedback = enabled }
}

func NewLoop(sampler Sampler, refiner Refiner, clarifier Clarifier, maxIterations int, opts ...Option) *Loop {
	if maxIterations < 1 {
		maxIterations = 1
	}
	l := &Loop{
		sampler:       sampler,
		refiner:       refiner,
		clarifier:     clarifier,
		maxIterations: maxIterations,
		log:           logger.New("Canvas"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Outcome summarizes a finished loop.
type Outcome struct {
	Passed          bool
	Iterations      int
	Result          *TestResult
	Script          *synth.Script
	NewScripts      []*synth.Script
	PendingQuestion *synth.Clarification
}

func (l *Loop) enter(state State, iteration int, tr *TestResult) {
	if l.observer != nil {
		l.observer(state, iteration, tr)
	}
}

// Run drives testing -> (refining <-> testing)* until a test passes or the
// iteration bound is exhausted. The loop terminates successfully the first
// time a sample run succeeds with at least one item; exhaustion surfaces the
// last clarifying question instead of silently giving up.
func (l *Loop) Run(ctx context.Context, initial *synth.Script) (*Outcome, error) {
	if initial == nil {
		return nil, fmt.Errorf("canvas loop needs an initial script")
	}

	out := &Outcome{Script: initial}
	script := initial

	for i := 1; i <= l.maxIterations; i++ {
		out.Iterations = i
		l.enter(StateTesting, i, nil)
		l.log.LogInfof("Micro-test iteration %d/%d", i, l.maxIterations)

		res, err := l.sampler.RunSample(ctx, script)
		if err != nil {
			res = &sandbox.Result{Success: false, Errors: []string{err.Error()}}
		}
		tr := evaluate(res)
		out.Result = tr
		out.Script = script

		if tr.Success {
			l.log.LogSuccessf("Micro-test passed with %d sample items", len(tr.Sample))
			out.Passed = true
			return out, nil
		}

		// Every failed test gets exactly one clarifying question attached.
		question := l.clarify(ctx, tr)
		tr.Clarification = question
		tr.NeedsRefinement = true

		if i == l.maxIterations {
			out.PendingQuestion = question
			break
		}

		l.enter(StateRefining, i, tr)
		feedback := ""
		if l.autoFeedback {
			feedback = syntheticFeedback(tr)
		}
		next, err := l.refiner.RefineScript(ctx, script, tr.Errors, feedback)
		if err != nil {
			l.log.LogError("Refinement failed, stopping loop", err)
			out.PendingQuestion = question
			return out, nil
		}
		out.NewScripts = append(out.NewScripts, next)
		script = next
	}

	l.log.LogWarnf("Canvas loop exhausted after %d iterations", out.Iterations)
	return out, nil
}

// evaluate applies the success criterion: the run succeeded and returned at
// least one item.
func evaluate(res *sandbox.Result) *TestResult {
	tr := &TestResult{
		Success: res.Success && res.ItemCount() >= 1,
		Sample:  res.Data,
		Errors:  append([]string(nil), res.Errors...),
	}
	if res.Success && res.ItemCount() == 0 {
		tr.Errors = append(tr.Errors, "sample run returned zero items")
	}
	return tr
}

// clarify fetches questions and picks the one to attach, preferring a
// multiple-choice or boolean question the user can answer with a click.
func (l *Loop) clarify(ctx context.Context, tr *TestResult) *synth.Clarification {
	questions, reasoning, err := l.clarifier.ClarifyFailure(ctx, tr.Errors)
	if err != nil || len(questions) == 0 {
		return &synth.Clarification{
			Question: "The trial run did not return any data. Should we try reading the page differently?",
			Type:     "boolean",
			Context:  "automatic fallback question",
		}
	}
	if reasoning != "" {
		l.log.LogDebugf("Clarifier reasoning: %s", truncate(reasoning, 120))
	}
	for i := range questions {
		if questions[i].Type == "multiple_choice" || questions[i].Type == "boolean" {
			return &questions[i]
		}
	}
	return &questions[0]
}

// syntheticFeedback builds the "user feedback" string for unattended
// refinement.
func syntheticFeedback(tr *TestResult) string {
	if len(tr.Errors) == 0 {
		return "The sample run returned zero items. Re-examine the listing selector and wait conditions."
	}
	return "No user is available. Fix the first error and try a more tolerant extraction: " + tr.Errors[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
