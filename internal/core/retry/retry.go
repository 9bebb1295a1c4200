package retry

import "fmt"

// Tool identifies an extraction strategy the synthesizer can target.
type Tool string

const (
	// ToolPlaywright is the baseline deterministic browser strategy.
	ToolPlaywright Tool = "playwright"
	// ToolStagehand is the LLM-guided extraction strategy.
	ToolStagehand Tool = "stagehand"
	// ToolPlaywrightStealth is the stealth-hardened deterministic strategy.
	ToolPlaywrightStealth Tool = "playwright-stealth"
	// ToolHybrid combines deterministic navigation with LLM-guided per-item
	// extraction.
	ToolHybrid Tool = "hybrid"
)

// Action is what the caller should do with the next attempt.
type Action string

const (
	// ActionRebuild discards the current script and site spec and rebuilds
	// from scratch on the chosen tool.
	ActionRebuild Action = "rebuild"
	// ActionEnhance keeps the analysis but regenerates the script on a
	// stronger strategy.
	ActionEnhance Action = "enhance"
	// ActionTune keeps the tool and only adjusts pagination/scope parameters.
	ActionTune Action = "tune"
)

// Bucket classifies how much of the expected scope a run delivered.
type Bucket string

const (
	BucketZero         Bucket = "zero"
	BucketPartial      Bucket = "partial"
	BucketNearComplete Bucket = "near_complete"
)

// Decision is the engine's verdict for the next attempt.
type Decision struct {
	Action   Action
	NextTool Tool
	Bucket   Bucket
	Reason   string
}

// transitions maps (bucket, current tool) to the next move. Keeping this as
// one table instead of branching logic makes the whole policy testable row
// by row.
var transitions = map[Bucket]map[Tool]Decision{
	BucketZero: {
		ToolPlaywright:        {Action: ActionRebuild, NextTool: ToolStagehand, Reason: "zero items on baseline, switch to llm-guided extraction"},
		ToolStagehand:         {Action: ActionRebuild, NextTool: ToolPlaywrightStealth, Reason: "zero items on llm-guided, switch to stealth-hardened browser"},
		ToolPlaywrightStealth: {Action: ActionRebuild, NextTool: ToolStagehand, Reason: "zero items on stealth, retry llm-guided extraction"},
		ToolHybrid:            {Action: ActionRebuild, NextTool: ToolStagehand, Reason: "zero items on hybrid, rebuild with llm-guided extraction"},
	},
	BucketPartial: {
		ToolPlaywright:        {Action: ActionEnhance, NextTool: ToolHybrid, Reason: "partial delivery, add llm-guided per-item extraction on top of deterministic navigation"},
		ToolStagehand:         {Action: ActionEnhance, NextTool: ToolHybrid, Reason: "partial delivery, add deterministic pagination around llm-guided extraction"},
		ToolHybrid:            {Action: ActionEnhance, NextTool: ToolPlaywrightStealth, Reason: "hybrid still under-delivers, escalate to stealth-hardened browser"},
		ToolPlaywrightStealth: {Action: ActionEnhance, NextTool: ToolPlaywright, Reason: "stealth under-delivers, fall back to baseline deterministic strategy"},
	},
	BucketNearComplete: {
		ToolPlaywright:        {Action: ActionTune, NextTool: ToolPlaywright, Reason: "near-complete delivery, tune pagination and scope parameters"},
		ToolStagehand:         {Action: ActionTune, NextTool: ToolStagehand, Reason: "near-complete delivery, tune pagination and scope parameters"},
		ToolPlaywrightStealth: {Action: ActionTune, NextTool: ToolPlaywrightStealth, Reason: "near-complete delivery, tune pagination and scope parameters"},
		ToolHybrid:            {Action: ActionTune, NextTool: ToolHybrid, Reason: "near-complete delivery, tune pagination and scope parameters"},
	},
}

// Classify buckets a run outcome against the expected item count. The
// partial/near-complete boundary is the configurable ratio (0.8 by default).
func Classify(itemsFound, expectedItems int, nearCompleteRatio float64) Bucket {
	if itemsFound <= 0 {
		return BucketZero
	}
	if expectedItems <= 0 {
		// No declared expectation: anything non-zero counts as complete.
		return BucketNearComplete
	}
	if float64(itemsFound) >= nearCompleteRatio*float64(expectedItems) {
		return BucketNearComplete
	}
	return BucketPartial
}

// Decide returns the next move for a full run that delivered itemsFound out
// of expectedItems using currentTool. It is a pure function of its inputs.
func Decide(currentTool Tool, itemsFound, expectedItems int, nearCompleteRatio float64) (Decision, error) {
	bucket := Classify(itemsFound, expectedItems, nearCompleteRatio)
	row, ok := transitions[bucket]
	if !ok {
		return Decision{}, fmt.Errorf("no transitions for bucket %q", bucket)
	}
	d, ok := row[currentTool]
	if !ok {
		return Decision{}, fmt.Errorf("unknown tool %q", currentTool)
	}
	d.Bucket = bucket
	return d, nil
}

// Tools lists every strategy the engine can select.
func Tools() []Tool {
	return []Tool{ToolPlaywright, ToolStagehand, ToolPlaywrightStealth, ToolHybrid}
}
