package requirement

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	gemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"codegen/internal/logger"
	"codegen/internal/platform/eino"
	"codegen/prompts"
)

// Service parses free-text extraction requests into Requirements via the
// LLM, with JSON schema enforcement and a deterministic fallback.
type Service struct {
	log     *logger.Logger
	eino    *eino.Service
	prompts *prompts.SystemPrompts
}

func NewService(einoService *eino.Service, sp *prompts.SystemPrompts) *Service {
	return &Service{
		log:     logger.New("Requirement"),
		eino:    einoService,
		prompts: sp,
	}
}

// parsed is the wire shape the analysis template asks for.
type parsed struct {
	Target        string        `json:"target"`
	Title         string        `json:"title"`
	Fields        []OutputField `json:"fields"`
	Scope         Scope         `json:"scope"`
	Complexity    string        `json:"complexity"`
	SuggestedTool string        `json:"suggested_tool"`
	Rationale     string        `json:"rationale"`
}

// createRequirementSchema forces the LLM to return valid requirement JSON
func createRequirementSchema() *jsonschema.Schema {
	fieldSchema := &jsonschema.Schema{
		Type:     string(einoschema.Object),
		Required: []string{"name", "type", "required"},
		Properties: orderedmap.New[string, *jsonschema.Schema](
			orderedmap.WithInitialData[string, *jsonschema.Schema](
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "name",
					Value: &jsonschema.Schema{
						Type:        string(einoschema.String),
						Description: "Snake-case field name",
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "type",
					Value: &jsonschema.Schema{
						Type:        string(einoschema.String),
						Description: "Semantic type of the field",
						Enum:        []any{"name", "title", "text", "url", "email", "phone", "date", "year", "number", "price", "image"},
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "required",
					Value: &jsonschema.Schema{
						Type: string(einoschema.Boolean),
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "description",
					Value: &jsonschema.Schema{
						Type: string(einoschema.String),
					},
				},
			),
		),
	}

	return &jsonschema.Schema{
		Type:     string(einoschema.Object),
		Required: []string{"target", "title", "fields", "scope", "complexity", "suggested_tool"},
		Properties: orderedmap.New[string, *jsonschema.Schema](
			orderedmap.WithInitialData[string, *jsonschema.Schema](
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "target",
					Value: &jsonschema.Schema{
						Type:        string(einoschema.String),
						Description: "What is being extracted, one sentence",
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "title",
					Value: &jsonschema.Schema{
						Type:        string(einoschema.String),
						Description: "Short human-readable job title",
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "fields",
					Value: &jsonschema.Schema{
						Type:        string(einoschema.Array),
						Description: "Output fields the user asked for",
						Items:       fieldSchema,
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "scope",
					Value: &jsonschema.Schema{
						Type: string(einoschema.Object),
						Properties: orderedmap.New[string, *jsonschema.Schema](
							orderedmap.WithInitialData[string, *jsonschema.Schema](
								orderedmap.Pair[string, *jsonschema.Schema]{
									Key: "max_pages",
									Value: &jsonschema.Schema{
										Type:        string(einoschema.Integer),
										Description: "Maximum number of pages to process",
										Minimum:     json.Number("1"),
										Maximum:     json.Number("50"),
									},
								},
								orderedmap.Pair[string, *jsonschema.Schema]{
									Key: "item_limit",
									Value: &jsonschema.Schema{
										Type:        string(einoschema.Integer),
										Description: "Expected item count, 0 if unknown",
									},
								},
								orderedmap.Pair[string, *jsonschema.Schema]{
									Key: "filters",
									Value: &jsonschema.Schema{
										Type:  string(einoschema.Array),
										Items: &jsonschema.Schema{Type: string(einoschema.String)},
									},
								},
							),
						),
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "complexity",
					Value: &jsonschema.Schema{
						Type: string(einoschema.String),
						Enum: []any{"simple", "standard", "complex"},
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "suggested_tool",
					Value: &jsonschema.Schema{
						Type: string(einoschema.String),
						Enum: []any{"playwright", "stagehand", "hybrid"},
					},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key: "rationale",
					Value: &jsonschema.Schema{
						Type: string(einoschema.String),
					},
				},
			),
		),
	}
}

// Parse converts a free-text request into a validated Requirement plus a
// short job title. Malformed LLM output falls back to a deterministic
// keyword analysis rather than failing the job outright.
func (s *Service) Parse(ctx context.Context, url, userPrompt string, retry *RetryContext) (*Requirement, string, error) {
	s.log.LogInfof("Analyzing request: %s", truncate(userPrompt, 120))

	retryContext := ""
	if retry != nil {
		b, _ := json.Marshal(retry)
		retryContext = "**Prior Attempt**: the previous run used tool " + retry.PriorTool +
			" and found " + fmt.Sprint(retry.PriorItemsFound) + " of " + fmt.Sprint(retry.PriorExpected) +
			" expected items. Details: " + string(b)
	}

	templateVars := map[string]any{
		"url":           url,
		"user_prompt":   userPrompt,
		"retry_context": retryContext,
	}

	messages, err := s.prompts.RequirementAnalysis.Format(ctx, templateVars)
	if err != nil {
		s.log.LogErrorf("Requirement template formatting failed: %v", err)
		return s.fallback(url, userPrompt)
	}

	response, tokenUsage, err := s.eino.GenerateWithTokenUsage(ctx, messages,
		model.WithTemperature(0.1),
		model.WithMaxTokens(1200),
		gemini.WithResponseJSONSchema(createRequirementSchema()),
	)
	if err != nil {
		s.log.LogWarnf("LLM analysis failed, using fallback: %v", err)
		return s.fallback(url, userPrompt)
	}
	s.log.LogDebugf("Requirement analysis used %d tokens", tokenUsage.TotalTokens)

	var p parsed
	if err := json.Unmarshal([]byte(eino.CleanJSONResponse(response.Content)), &p); err != nil {
		s.log.LogWarnf("Requirement JSON malformed, using fallback: %v", err)
		return s.fallback(url, userPrompt)
	}

	req := &Requirement{
		Target:        p.Target,
		Fields:        p.Fields,
		Scope:         p.Scope,
		Complexity:    p.Complexity,
		SuggestedTool: p.SuggestedTool,
		Rationale:     p.Rationale,
	}
	if err := req.Validate(); err != nil {
		return nil, "", fmt.Errorf("parser returned unusable requirement: %w", err)
	}
	if req.Scope.MaxPages == 0 {
		req.Scope.MaxPages = 1
	}
	title := p.Title
	if title == "" {
		title = truncate(userPrompt, 60)
	}
	s.log.LogSuccessf("Parsed requirement: %d fields, complexity %s, tool %s", len(req.Fields), req.Complexity, req.SuggestedTool)
	return req, title, nil
}

var fieldKeywords = []struct {
	keyword string
	field   OutputField
}{
	{"email", OutputField{Name: "email", Type: "email", Required: false}},
	{"phone", OutputField{Name: "phone", Type: "phone", Required: false}},
	{"price", OutputField{Name: "price", Type: "price", Required: false}},
	{"date", OutputField{Name: "date", Type: "date", Required: false}},
	{"year", OutputField{Name: "year", Type: "year", Required: false}},
	{"website", OutputField{Name: "website", Type: "url", Required: false}},
	{"link", OutputField{Name: "url", Type: "url", Required: false}},
	{"image", OutputField{Name: "image", Type: "image", Required: false}},
	{"address", OutputField{Name: "address", Type: "text", Required: false}},
	{"description", OutputField{Name: "description", Type: "text", Required: false}},
}

var itemCountRe = regexp.MustCompile(`\b(\d{1,5})\s+(?:items|results|records|entries|listings|companies|products|jobs|profiles)\b`)

// fallback derives a minimal requirement from prompt keywords when the LLM
// path is unavailable or returned garbage.
func (s *Service) fallback(url, userPrompt string) (*Requirement, string, error) {
	lower := strings.ToLower(userPrompt)

	fields := []OutputField{{Name: "name", Type: "name", Required: true, Description: "Primary name or title of the item"}}
	for _, fk := range fieldKeywords {
		if strings.Contains(lower, fk.keyword) {
			fields = append(fields, fk.field)
		}
	}

	itemLimit := 0
	if m := itemCountRe.FindStringSubmatch(lower); m != nil {
		fmt.Sscanf(m[1], "%d", &itemLimit)
	}

	complexity := "simple"
	maxPages := 1
	if strings.Contains(lower, "all pages") || strings.Contains(lower, "every page") || itemLimit > 20 {
		complexity = "standard"
		maxPages = 10
	}

	req := &Requirement{
		Target:        userPrompt,
		Fields:        fields,
		Scope:         Scope{MaxPages: maxPages, ItemLimit: itemLimit},
		Complexity:    complexity,
		SuggestedTool: "playwright",
		Rationale:     "fallback analysis: deterministic browser strategy as the safe default",
	}
	return req, truncate(userPrompt, 60), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
