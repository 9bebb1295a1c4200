package pipeline

import (
	"context"
	"fmt"

	"codegen/internal/core/canvas"
	"codegen/internal/core/job"
	"codegen/internal/core/probe"
	"codegen/internal/core/requirement"
	"codegen/internal/core/retry"
	"codegen/internal/core/sandbox"
	"codegen/internal/core/selector"
	"codegen/internal/core/sitespec"
	"codegen/internal/core/synth"
)

type probeOutcome struct {
	res *probe.Result
	err error
}

// run executes the full pipeline for one job. Requirement parsing and the
// site probe overlap since neither depends on the other.
func (s *Service) run(ctx context.Context, j *job.CodegenJob) {
	if err := s.jobs.Advance(ctx, j, job.StatusParsing); err != nil {
		s.fail(ctx, j, job.FailureExecution, err)
		return
	}
	s.trace(ctx, j.ID, "parsing", "analyzing request and probing %s", j.URL)

	probeCh := make(chan probeOutcome, 1)
	go func() {
		res, err := s.prober.Probe(ctx, j.URL)
		probeCh <- probeOutcome{res: res, err: err}
	}()

	req, title, err := s.parser.Parse(ctx, j.URL, j.Prompt, nil)
	if err != nil {
		s.fail(ctx, j, job.FailureParse, err)
		return
	}
	j.Requirement = req
	j.Title = title

	if err := s.jobs.Advance(ctx, j, job.StatusAnalyzing); err != nil {
		s.fail(ctx, j, job.FailureExecution, err)
		return
	}

	po := <-probeCh
	if po.err != nil {
		// A failed probe degrades the analysis but does not kill the job:
		// the model can still attempt a script from the requirement alone.
		j.Failure = job.FailureProbe
		j.Errors = append(j.Errors, po.err.Error())
		s.log.LogWarnf("Probe degraded for job %s: %v", j.ID, po.err)
	}
	if po.res == nil {
		po.res = &probe.Result{URL: j.URL, Degraded: true}
	}
	if po.res.Title != "" {
		j.Title = po.res.Title
	}

	spec := s.buildSiteSpec(ctx, po.res, req)
	j.SiteSpec = spec
	s.trace(ctx, j.ID, "analyzing", "site spec v%d built, tool %s, %d uncertainties",
		spec.Version, spec.Tool, len(spec.Uncertainties))

	if err := s.jobs.Advance(ctx, j, job.StatusGenerating); err != nil {
		s.fail(ctx, j, job.FailureExecution, err)
		return
	}

	script, err := s.scripts.Generate(ctx, j.URL, j.Prompt, req, spec, spec.Tool, s.cfg.Tunables.PartialEmitEvery)
	if err != nil {
		s.fail(ctx, j, job.FailureExecution, fmt.Errorf("script generation: %w", err))
		return
	}
	j.AppendScript(*script)
	s.trace(ctx, j.ID, "generating", "script v%d generated for tool %s", j.CurrentScript().Version, script.Tool)

	s.testAndExecute(ctx, j)
}

// testAndExecute runs the micro-test loop and, when the site spec is ready, the
// full extraction with retry rounds. Shared between the first run and
// clarification resumes.
func (s *Service) testAndExecute(ctx context.Context, j *job.CodegenJob) {
	if j.Status != job.StatusTesting {
		if err := s.jobs.Advance(ctx, j, job.StatusTesting); err != nil {
			s.fail(ctx, j, job.FailureExecution, err)
			return
		}
	}

	out, err := s.runCanvas(ctx, j, s.cfg.Tunables.CanvasMaxIterations)
	if err != nil {
		s.fail(ctx, j, job.FailureMicroTest, err)
		return
	}

	spec := j.SiteSpec.WithMicroTest(sitespec.MicroTest{
		Success:     out.Result.Success,
		ItemCount:   len(out.Result.Sample),
		FieldErrors: len(out.Result.Errors),
	})
	j.SiteSpec = spec
	confidence := spec.Confidence()
	s.trace(ctx, j.ID, "testing", "micro-test done, confidence %.2f", confidence)

	if !out.Passed && !spec.ReadyForSynthesis(s.cfg.Tunables.ReadyConfidence) {
		j.PendingQuery = out.PendingQuestion
		j.Failure = job.FailureMicroTest
		s.trace(ctx, j.ID, "awaiting", "confidence %.2f below cutoff, asking: %s",
			confidence, out.PendingQuestion.Question)
		if aerr := s.jobs.Advance(ctx, j, job.StatusAwaitingClarify); aerr != nil {
			s.fail(ctx, j, job.FailureMicroTest, aerr)
		}
		return
	}

	if err := s.jobs.Advance(ctx, j, job.StatusExecuting); err != nil {
		s.fail(ctx, j, job.FailureExecution, err)
		return
	}
	s.executeWithRetries(ctx, j)
}

// runCanvas wires the loop's collaborators to this job and keeps the job
// record in sync with the loop's state.
func (s *Service) runCanvas(ctx context.Context, j *job.CodegenJob, maxIterations int) (*canvas.Outcome, error) {
	loop := canvas.NewLoop(
		sampleRunner{backend: s.backend, jobID: j.ID, itemCap: s.cfg.Tunables.SampleItemCap, timeoutSec: s.cfg.Tunables.SampleTimeoutSec},
		refineAdapter{scripts: s.scripts, url: j.URL, prompt: j.Prompt},
		clarifyAdapter{scripts: s.scripts, url: j.URL, prompt: j.Prompt},
		maxIterations,
		canvas.WithAutoFeedback(true),
		canvas.WithObserver(func(state canvas.State, iteration int, tr *canvas.TestResult) {
			j.Iteration = iteration
			if tr != nil {
				j.TestResult = tr
			}
			target := job.StatusTesting
			if state == canvas.StateRefining {
				target = job.StatusRefining
			}
			if j.Status != target {
				if err := s.jobs.Advance(ctx, j, target); err != nil {
					s.log.LogWarnf("Status sync failed for job %s: %v", j.ID, err)
				}
			} else {
				_ = s.jobs.Save(ctx, j)
			}
			s.trace(ctx, j.ID, string(target), "iteration %d", iteration)
		}),
	)

	out, err := loop.Run(ctx, j.CurrentScript())
	if err != nil {
		return nil, err
	}
	for _, ns := range out.NewScripts {
		j.AppendScript(*ns)
	}
	j.TestResult = out.Result
	return out, nil
}

// executeWithRetries runs the full script and applies the adaptive retry
// policy until the expectation is met or the round budget runs out.
func (s *Service) executeWithRetries(ctx context.Context, j *job.CodegenJob) {
	expected := j.Requirement.ExpectedItems()
	var best *sandbox.Result

	for {
		script := j.CurrentScript()
		res, err := s.backend.Execute(ctx, sandbox.Request{
			JobID:        j.ID,
			Code:         script.FullCode,
			Dependencies: script.Dependencies,
			Tool:         script.Tool,
			MaxItems:     expected,
			TimeoutSec:   s.cfg.Tunables.FullRunTimeoutSec,
		})
		if err != nil && res == nil {
			res = &sandbox.Result{Success: false, Errors: []string{err.Error()}, ToolUsed: script.Tool}
		}
		j.ExecutionResult = res
		if res.TimedOut {
			j.Errors = append(j.Errors, fmt.Sprintf("round %d: sandbox timeout after %ds", j.RetryRound, s.cfg.Tunables.FullRunTimeoutSec))
		}
		if best == nil || res.ItemCount() > best.ItemCount() {
			best = res
			j.PartialData = res.Data
		}
		s.trace(ctx, j.ID, "executing", "round %d with %s found %d items (expected %d)",
			j.RetryRound, script.Tool, res.ItemCount(), expected)

		if runSatisfies(res, expected) {
			j.Failure = job.FailureNone
			j.PartialData = nil
			s.log.LogSuccessf("Job %s completed with %d items", j.ID, res.ItemCount())
			if err := s.jobs.Advance(ctx, j, job.StatusCompleted); err != nil {
				s.fail(ctx, j, job.FailureExecution, err)
			}
			return
		}

		if j.RetryRound >= s.cfg.Tunables.MaxRetryRounds {
			s.finishExhausted(ctx, j, best)
			return
		}

		j.RetryRound++
		if err := s.jobs.Advance(ctx, j, job.StatusRetrying); err != nil {
			s.fail(ctx, j, job.FailureExecution, err)
			return
		}

		decision, err := retry.Decide(retry.Tool(script.Tool), res.ItemCount(), expected, s.cfg.Tunables.NearCompleteRatio)
		if err != nil {
			s.fail(ctx, j, job.FailureExecution, err)
			return
		}
		s.trace(ctx, j.ID, "retrying", "round %d: %s -> %s with %s (%s)",
			j.RetryRound, decision.Bucket, decision.Action, decision.NextTool, decision.Reason)

		if !s.applyRetryDecision(ctx, j, decision, res) {
			return
		}
	}
}

// applyRetryDecision mutates the job toward the next execution round.
// Returns false when the job already reached a terminal state.
func (s *Service) applyRetryDecision(ctx context.Context, j *job.CodegenJob, decision retry.Decision, lastRun *sandbox.Result) bool {
	switch decision.Action {
	case retry.ActionRebuild, retry.ActionEnhance:
		if err := s.jobs.Advance(ctx, j, job.StatusGenerating); err != nil {
			s.fail(ctx, j, job.FailureExecution, err)
			return false
		}
		spec := j.SiteSpec.Clone()
		spec.Tool = string(decision.NextTool)
		spec.ToolRationale = decision.Reason
		j.SiteSpec = spec

		script, err := s.scripts.Generate(ctx, j.URL, j.Prompt, j.Requirement, spec, spec.Tool, s.cfg.Tunables.PartialEmitEvery)
		if err != nil {
			s.fail(ctx, j, job.FailureExecution, fmt.Errorf("rebuild generation: %w", err))
			return false
		}
		j.AppendScript(*script)

		if err := s.jobs.Advance(ctx, j, job.StatusTesting); err != nil {
			s.fail(ctx, j, job.FailureExecution, err)
			return false
		}
		// One sanity test per rebuild keeps rounds bounded. Execution
		// proceeds either way, the full run is its own verdict.
		if out, err := s.runCanvas(ctx, j, 1); err == nil && out.Result != nil {
			j.SiteSpec = j.SiteSpec.WithMicroTest(sitespec.MicroTest{
				Success:     out.Result.Success,
				ItemCount:   len(out.Result.Sample),
				FieldErrors: len(out.Result.Errors),
			})
		}
		if err := s.jobs.Advance(ctx, j, job.StatusExecuting); err != nil {
			s.fail(ctx, j, job.FailureExecution, err)
			return false
		}
		return true

	case retry.ActionTune:
		feedback := fmt.Sprintf(
			"The run found %d of %d expected items with the right tool. Extend pagination handling, scrolling, or wait conditions to reach the rest.",
			lastRun.ItemCount(), j.Requirement.ExpectedItems(),
		)
		script, err := s.scripts.Refine(ctx, j.URL, j.Prompt, j.CurrentScript(), lastRun.Errors, feedback)
		if err != nil {
			s.fail(ctx, j, job.FailureExecution, fmt.Errorf("tune refinement: %w", err))
			return false
		}
		j.AppendScript(*script)
		if err := s.jobs.Advance(ctx, j, job.StatusExecuting); err != nil {
			s.fail(ctx, j, job.FailureExecution, err)
			return false
		}
		return true

	default:
		s.fail(ctx, j, job.FailureExecution, fmt.Errorf("unknown retry action %q", decision.Action))
		return false
	}
}

// finishExhausted closes a job whose retry budget ran out. Partial data is
// worth returning: the job completes with the partial flag rather than
// discarding what the best round found.
func (s *Service) finishExhausted(ctx context.Context, j *job.CodegenJob, best *sandbox.Result) {
	if best != nil && best.ItemCount() > 0 {
		best.IsPartial = true
		j.ExecutionResult = best
		j.Failure = job.FailureExhausted
		j.Errors = append(j.Errors, fmt.Sprintf("retry budget exhausted, returning best partial run (%d items)", best.ItemCount()))
		if err := s.jobs.Advance(ctx, j, job.StatusCompleted); err != nil {
			s.fail(ctx, j, job.FailureExhausted, err)
		}
		return
	}
	s.fail(ctx, j, job.FailureExhausted, fmt.Errorf("all tools exhausted after %d retry rounds", j.RetryRound))
}

// ResumeWithClarification feeds a user's answer back into refinement and
// restarts the loop from testing.
func (s *Service) ResumeWithClarification(ctx context.Context, jobID, answer string) (*job.CodegenJob, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusAwaitingClarify {
		return nil, fmt.Errorf("job %s is not awaiting clarification (status %s)", jobID, j.Status)
	}
	if j.CurrentScript() == nil || j.TestResult == nil {
		return nil, fmt.Errorf("job %s has no refinable artifacts", jobID)
	}

	if err := s.jobs.Advance(ctx, j, job.StatusRefining); err != nil {
		return nil, err
	}

	feedback := answer
	if j.PendingQuery != nil {
		feedback = fmt.Sprintf("Question: %s\nAnswer: %s", j.PendingQuery.Question, answer)
	}
	script, err := s.scripts.Refine(ctx, j.URL, j.Prompt, j.CurrentScript(), j.TestResult.Errors, feedback)
	if err != nil {
		s.fail(ctx, j, job.FailureExecution, fmt.Errorf("clarified refinement: %w", err))
		return j, err
	}
	j.AppendScript(*script)
	j.PendingQuery = nil
	j.Failure = job.FailureNone

	go s.testAndExecute(context.WithoutCancel(ctx), j)
	return j, nil
}

// runSatisfies is the completion criterion for a full run.
func runSatisfies(res *sandbox.Result, expected int) bool {
	if !res.Success {
		return false
	}
	count := res.ItemCount()
	if expected > 0 {
		return count >= expected
	}
	return count >= 1
}

// Collaborator adapters binding job context to the canvas loop interfaces.

type sampleRunner struct {
	backend    sandbox.Backend
	jobID      string
	itemCap    int
	timeoutSec int
}

func (r sampleRunner) RunSample(ctx context.Context, script *synth.Script) (*sandbox.Result, error) {
	return r.backend.Execute(ctx, sandbox.Request{
		JobID:        r.jobID,
		Code:         script.SampleCode,
		Dependencies: script.Dependencies,
		Tool:         script.Tool,
		MaxItems:     r.itemCap,
		TestMode:     true,
		TimeoutSec:   r.timeoutSec,
	})
}

type refineAdapter struct {
	scripts *synth.Service
	url     string
	prompt  string
}

func (a refineAdapter) RefineScript(ctx context.Context, prev *synth.Script, testErrors []string, feedback string) (*synth.Script, error) {
	return a.scripts.Refine(ctx, a.url, a.prompt, prev, testErrors, feedback)
}

type clarifyAdapter struct {
	scripts *synth.Service
	url     string
	prompt  string
}

func (a clarifyAdapter) ClarifyFailure(ctx context.Context, testErrors []string) ([]synth.Clarification, string, error) {
	return a.scripts.Clarify(ctx, a.url, a.prompt, testErrors)
}

// buildSiteSpec turns the probe's view of the page into a scored site spec.
func (s *Service) buildSiteSpec(ctx context.Context, res *probe.Result, req *requirement.Requirement) *sitespec.SiteSpec {
	b := sitespec.NewBuilder(res.URL, res.Title).
		Flags(res.NeedsJS, res.InfiniteScroll, res.BotChallenge, res.HasStructuredAPIs()).
		PageDigest(res.Markdown)

	tool, rationale := chooseTool(req, res)
	b.Tool(tool, rationale)

	html := res.BestHTML()
	if html == "" {
		b.Uncertainty("probe returned no HTML, selectors are unverified")
		return b.Build()
	}

	sc := selector.New(s.cfg.Tunables.MinListingCount, s.cfg.Tunables.MaxListingCount)
	digest, err := sc.Digest(html)
	if err != nil {
		b.Uncertainty("page HTML could not be parsed for selector analysis")
		return b.Build()
	}

	b.Listing(sc.ListingCandidates(digest))
	details := sc.DetailLinkCandidates(digest)
	b.DetailLink(details)
	b.PaginationFrom(sc.PaginationCandidates(digest))

	digests := []*selector.PageDigest{digest}
	if len(details) > 0 {
		digests = append(digests, s.sampleDigests(ctx, sc, res.URL, details)...)
	}

	for _, f := range req.Fields {
		fieldSpec := selector.FieldSpec{Name: f.Name, Type: f.Type, Required: f.Required}
		perPage := make([][]selector.Candidate, 0, len(digests))
		for _, d := range digests {
			perPage = append(perPage, sc.FieldCandidates(d, fieldSpec))
		}
		if len(perPage) > 1 {
			b.Field(fieldSpec, selector.RankAcrossPages(perPage))
		} else {
			b.Field(fieldSpec, perPage[0])
		}
	}

	return b.Build()
}

// sampleDigests fetches a few detail pages so field selectors can be
// validated beyond the listing page.
func (s *Service) sampleDigests(ctx context.Context, sc *selector.Scorer, baseURL string, details []selector.Candidate) []*selector.PageDigest {
	var hrefs []string
	for _, d := range details {
		if d.SampleHref != "" {
			hrefs = append(hrefs, d.SampleHref)
		}
	}
	pages, err := s.samples.SamplePages(ctx, baseURL, hrefs)
	if err != nil {
		s.log.LogWarnf("Sample page fetch failed: %v", err)
		return nil
	}
	var digests []*selector.PageDigest
	for _, p := range pages {
		if d, derr := sc.Digest(p.HTML); derr == nil {
			digests = append(digests, d)
		}
	}
	return digests
}

// chooseTool picks the automation tool the script should target. A bot
// challenge overrides everything, otherwise the requirement's suggestion
// wins when it names a known tool.
func chooseTool(req *requirement.Requirement, res *probe.Result) (string, string) {
	if res.BotChallenge {
		return string(retry.ToolPlaywrightStealth), "bot challenge detected during probe"
	}
	if req != nil && req.SuggestedTool != "" {
		for _, t := range retry.Tools() {
			if string(t) == req.SuggestedTool {
				return req.SuggestedTool, req.Rationale
			}
		}
	}
	if res.NeedsJS || res.InfiniteScroll {
		return string(retry.ToolPlaywright), "page renders its listing with JavaScript"
	}
	return string(retry.ToolPlaywright), "default baseline tool"
}
