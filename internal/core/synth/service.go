package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"

	"codegen/internal/core/requirement"
	"codegen/internal/core/sandbox"
	"codegen/internal/core/sitespec"
	"codegen/internal/logger"
	"codegen/internal/platform/eino"
	"codegen/prompts"
)

// Service is the code-synthesis collaborator: it turns a requirement plus a
// site spec into extraction logic, refines failed scripts, and phrases
// clarifying questions.
type Service struct {
	log     *logger.Logger
	eino    *eino.Service
	prompts *prompts.SystemPrompts
}

func NewService(einoService *eino.Service, sp *prompts.SystemPrompts) *Service {
	return &Service{
		log:     logger.New("Synth"),
		eino:    einoService,
		prompts: sp,
	}
}

// scriptWire is the JSON shape the synthesis templates ask for.
type scriptWire struct {
	SampleCode   string   `json:"sample_code"`
	FullCode     string   `json:"full_code"`
	Dependencies []string `json:"dependencies"`
	Explanation  string   `json:"explanation"`
	Changes      []string `json:"changes"`
}

func (w *scriptWire) toScript(tool string) (*Script, error) {
	if strings.TrimSpace(w.SampleCode) == "" || strings.TrimSpace(w.FullCode) == "" {
		return nil, fmt.Errorf("synthesizer returned an empty script variant")
	}
	// Both variants must honor the single-entry-point contract before the
	// sandbox ever sees them.
	if err := sandbox.ValidateEntryPoint(w.SampleCode); err != nil {
		return nil, fmt.Errorf("sample variant: %w", err)
	}
	if err := sandbox.ValidateEntryPoint(w.FullCode); err != nil {
		return nil, fmt.Errorf("full variant: %w", err)
	}
	return &Script{
		Tool:         tool,
		SampleCode:   w.SampleCode,
		FullCode:     w.FullCode,
		Dependencies: w.Dependencies,
		Explanation:  w.Explanation,
		Changes:      w.Changes,
		CreatedAt:    time.Now(),
	}, nil
}

// Generate synthesizes both script variants for the given tool.
func (s *Service) Generate(ctx context.Context, url, userPrompt string, req *requirement.Requirement, spec *sitespec.SiteSpec, tool string, partialEvery int) (*Script, error) {
	s.log.LogInfof("Generating %s script for %s", tool, url)

	// The digest goes into its own template section as readable markdown,
	// not JSON-escaped inside the spec.
	lean := *spec
	lean.PageDigest = ""
	specJSON, err := json.MarshalIndent(&lean, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal site spec: %w", err)
	}
	reqJSON, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal requirement: %w", err)
	}
	digest := spec.PageDigest
	if strings.TrimSpace(digest) == "" {
		digest = "(no page digest available)"
	}

	messages, err := s.prompts.ScriptSynthesis.Format(ctx, map[string]any{
		"url":           url,
		"user_prompt":   userPrompt,
		"tool":          tool,
		"partial_every": partialEvery,
		"site_spec":     string(specJSON),
		"requirement":   string(reqJSON),
		"page_digest":   digest,
	})
	if err != nil {
		return nil, fmt.Errorf("format synthesis template: %w", err)
	}

	response, tokenUsage, err := s.eino.GenerateWithTokenUsage(ctx, messages,
		model.WithTemperature(0.2),
		model.WithMaxTokens(8000),
	)
	if err != nil {
		return nil, fmt.Errorf("script synthesis failed: %w", err)
	}
	s.log.LogDebugf("Synthesis used %d tokens", tokenUsage.TotalTokens)

	var wire scriptWire
	if err := json.Unmarshal([]byte(eino.CleanJSONResponse(response.Content)), &wire); err != nil {
		return nil, fmt.Errorf("synthesizer returned malformed JSON: %w", err)
	}
	script, err := wire.toScript(tool)
	if err != nil {
		return nil, err
	}
	s.log.LogSuccessf("Generated script: %d dependencies, %s", len(script.Dependencies), truncate(script.Explanation, 80))
	return script, nil
}

// Refine produces the next script version from test errors and optional
// user feedback.
func (s *Service) Refine(ctx context.Context, url, userPrompt string, prev *Script, testErrors []string, feedback string) (*Script, error) {
	s.log.LogInfof("Refining script v%d for %s", prev.Version, url)

	if feedback == "" {
		feedback = "No user feedback available. Diagnose from the errors alone."
	}

	messages, err := s.prompts.ScriptRefine.Format(ctx, map[string]any{
		"url":           url,
		"user_prompt":   userPrompt,
		"previous_code": prev.SampleCode,
		"test_errors":   strings.Join(testErrors, "\n"),
		"feedback":      feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("format refinement template: %w", err)
	}

	response, _, err := s.eino.GenerateWithTokenUsage(ctx, messages,
		model.WithTemperature(0.2),
		model.WithMaxTokens(8000),
	)
	if err != nil {
		return nil, fmt.Errorf("script refinement failed: %w", err)
	}

	var wire scriptWire
	if err := json.Unmarshal([]byte(eino.CleanJSONResponse(response.Content)), &wire); err != nil {
		return nil, fmt.Errorf("refiner returned malformed JSON: %w", err)
	}
	return wire.toScript(prev.Tool)
}

// clarifyWire is the JSON shape of the clarifying-question contract.
type clarifyWire struct {
	Questions []Clarification `json:"questions"`
	Reasoning string          `json:"reasoning"`
}

// Clarify asks the collaborator for user-facing questions about a failed
// sample test. Always returns at least one multiple-choice or boolean
// question, falling back to a deterministic one when the LLM misbehaves.
func (s *Service) Clarify(ctx context.Context, url, userPrompt string, testErrors []string) ([]Clarification, string, error) {
	messages, err := s.prompts.ClarifyingQuestions.Format(ctx, map[string]any{
		"url":         url,
		"user_prompt": userPrompt,
		"test_errors": strings.Join(testErrors, "\n"),
	})
	if err != nil {
		return fallbackQuestions(testErrors), "template formatting failed", nil
	}

	response, _, err := s.eino.GenerateWithTokenUsage(ctx, messages,
		model.WithTemperature(0.3),
		model.WithMaxTokens(1500),
	)
	if err != nil {
		s.log.LogWarnf("Clarifying questions failed, using fallback: %v", err)
		return fallbackQuestions(testErrors), "llm unavailable", nil
	}

	var wire clarifyWire
	if err := json.Unmarshal([]byte(eino.CleanJSONResponse(response.Content)), &wire); err != nil {
		return fallbackQuestions(testErrors), "llm returned malformed questions", nil
	}
	if !hasChoiceQuestion(wire.Questions) {
		wire.Questions = append(wire.Questions, fallbackQuestions(testErrors)...)
	}
	return wire.Questions, wire.Reasoning, nil
}

func hasChoiceQuestion(qs []Clarification) bool {
	for _, q := range qs {
		if q.Type == "multiple_choice" || q.Type == "boolean" {
			return true
		}
	}
	return false
}

// fallbackQuestions is the deterministic question set used when the
// collaborator cannot produce one.
func fallbackQuestions(testErrors []string) []Clarification {
	context := "The trial run returned no data."
	if len(testErrors) > 0 {
		context = "The trial run hit a problem before returning data."
	}
	return []Clarification{{
		Question: "The first attempt did not find the data you described. What best matches what you want?",
		Type:     "multiple_choice",
		Options: []string{
			"The items in the main list on the page",
			"Details that appear after clicking into each item",
			"Something else on the page",
		},
		Context: context,
	}}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
