package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen/internal/config"
	"codegen/internal/core/mapper"
	"codegen/internal/core/probe"
	"codegen/internal/core/requirement"
	"codegen/internal/core/sandbox"
)

func testService() *Service {
	cfg := config.Config{Tunables: config.DefaultTunables()}
	return &Service{
		cfg:     cfg,
		samples: mapper.New(cfg.Tunables.SamplePageLimit),
	}
}

func TestChooseTool(t *testing.T) {
	t.Parallel()

	req := &requirement.Requirement{SuggestedTool: "stagehand", Rationale: "semantic page"}

	t.Run("bot challenge forces stealth", func(t *testing.T) {
		t.Parallel()
		tool, rationale := chooseTool(req, &probe.Result{BotChallenge: true})
		assert.Equal(t, "playwright-stealth", tool)
		assert.Contains(t, rationale, "bot challenge")
	})

	t.Run("valid suggestion wins", func(t *testing.T) {
		t.Parallel()
		tool, rationale := chooseTool(req, &probe.Result{})
		assert.Equal(t, "stagehand", tool)
		assert.Equal(t, "semantic page", rationale)
	})

	t.Run("unknown suggestion ignored", func(t *testing.T) {
		t.Parallel()
		tool, _ := chooseTool(&requirement.Requirement{SuggestedTool: "selenium"}, &probe.Result{NeedsJS: true})
		assert.Equal(t, "playwright", tool)
	})

	t.Run("nil requirement defaults to playwright", func(t *testing.T) {
		t.Parallel()
		tool, _ := chooseTool(nil, &probe.Result{})
		assert.Equal(t, "playwright", tool)
	})
}

func TestRunSatisfies(t *testing.T) {
	t.Parallel()

	items := func(n int) []map[string]interface{} {
		out := make([]map[string]interface{}, n)
		for i := range out {
			out[i] = map[string]interface{}{"name": "x"}
		}
		return out
	}

	tests := []struct {
		name     string
		res      *sandbox.Result
		expected int
		want     bool
	}{
		{"meets expectation", &sandbox.Result{Success: true, Data: items(100)}, 100, true},
		{"exceeds expectation", &sandbox.Result{Success: true, Data: items(120)}, 100, true},
		{"short of expectation", &sandbox.Result{Success: true, Data: items(80)}, 100, false},
		{"no expectation, any items", &sandbox.Result{Success: true, Data: items(7)}, 0, true},
		{"no expectation, zero items", &sandbox.Result{Success: true}, 0, false},
		{"failed run with items", &sandbox.Result{Success: false, Data: items(100)}, 100, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, runSatisfies(tc.res, tc.expected))
		})
	}
}

func TestBuildSiteSpecFromListingPage(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("<html><head><title>Directory</title></head><body><main>")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&sb, `<div class="card"><span class="company-name">Company %d</span><span class="founded">201%d</span></div>`, i, i)
	}
	sb.WriteString("</main></body></html>")

	req := &requirement.Requirement{
		Target: "companies",
		Fields: []requirement.OutputField{
			{Name: "name", Type: "name", Required: true},
			{Name: "founded", Type: "year"},
		},
	}
	res := &probe.Result{
		URL:          "https://example.com/directory",
		Title:        "Directory",
		RenderedHTML: sb.String(),
		Markdown:     "# Directory\n\nCompany 0, 2010\nCompany 1, 2011",
	}

	spec := testService().buildSiteSpec(context.Background(), res, req)
	require.NotNil(t, spec)

	assert.Contains(t, spec.ListingSelector, "div.card")
	require.Contains(t, spec.FieldMappings, "name")
	assert.Contains(t, spec.FieldMappings["name"].Selector, "company-name")
	assert.Equal(t, "playwright", spec.Tool)
	assert.Equal(t, res.Markdown, spec.PageDigest, "the probe digest travels with the spec")
}

func TestBuildSiteSpecDegradedProbe(t *testing.T) {
	t.Parallel()

	res := &probe.Result{URL: "https://example.com/directory", Degraded: true}
	req := &requirement.Requirement{Target: "companies"}

	spec := testService().buildSiteSpec(context.Background(), res, req)
	require.NotNil(t, spec)

	assert.Empty(t, spec.ListingSelector)
	assert.NotEmpty(t, spec.Uncertainties, "an unverified spec must say so")
	assert.NotEmpty(t, spec.Tool)
}
