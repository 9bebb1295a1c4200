package requirement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"codegen/internal/core/requirement"
)

func validRequirement() *requirement.Requirement {
	return &requirement.Requirement{
		Target: "company profiles from a directory",
		Fields: []requirement.OutputField{
			{Name: "company_name", Type: "name", Required: true},
			{Name: "website", Type: "url"},
		},
		Scope:         requirement.Scope{MaxPages: 5, ItemLimit: 100},
		Complexity:    "standard",
		SuggestedTool: "playwright",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("accepts a well-formed requirement", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validRequirement().Validate())
	})

	t.Run("rejects an empty target", func(t *testing.T) {
		t.Parallel()
		r := validRequirement()
		r.Target = "  "
		assert.Error(t, r.Validate())
	})

	t.Run("rejects zero output fields", func(t *testing.T) {
		t.Parallel()
		r := validRequirement()
		r.Fields = nil
		assert.Error(t, r.Validate())
	})

	t.Run("rejects unknown field types", func(t *testing.T) {
		t.Parallel()
		r := validRequirement()
		r.Fields[0].Type = "quaternion"
		assert.Error(t, r.Validate())
	})

	t.Run("rejects unknown complexity tiers", func(t *testing.T) {
		t.Parallel()
		r := validRequirement()
		r.Complexity = "impossible"
		assert.Error(t, r.Validate())
	})

	t.Run("rejects negative scope bounds", func(t *testing.T) {
		t.Parallel()
		r := validRequirement()
		r.Scope.ItemLimit = -1
		assert.Error(t, r.Validate())
	})
}

func TestExpectedItems(t *testing.T) {
	t.Parallel()

	r := validRequirement()
	assert.Equal(t, 100, r.ExpectedItems())

	r.Scope.ItemLimit = 0
	assert.Zero(t, r.ExpectedItems())
}
