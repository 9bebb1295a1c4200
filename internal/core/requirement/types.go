package requirement

import (
	"fmt"
	"strings"
)

// OutputField is one column of the requested dataset.
type OutputField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Scope bounds how much the extraction should collect.
type Scope struct {
	MaxPages  int      `json:"max_pages"`
	ItemLimit int      `json:"item_limit"`
	Filters   []string `json:"filters,omitempty"`
}

// Requirement is the structured form of a free-text extraction request.
// Immutable once produced by the parser; consumed by every downstream stage.
type Requirement struct {
	Target        string        `json:"target"`
	Fields        []OutputField `json:"fields"`
	Scope         Scope         `json:"scope"`
	Complexity    string        `json:"complexity"`
	SuggestedTool string        `json:"suggested_tool"`
	Rationale     string        `json:"rationale,omitempty"`
}

// RetryContext carries prior-attempt evidence into a re-parse.
type RetryContext struct {
	PriorItemsFound int    `json:"prior_items_found"`
	PriorExpected   int    `json:"prior_expected"`
	PriorTool       string `json:"prior_tool"`
	PriorCode       string `json:"prior_code,omitempty"`
}

var validFieldTypes = map[string]bool{
	"name": true, "title": true, "text": true, "string": true,
	"url": true, "link": true, "website": true, "email": true,
	"phone": true, "date": true, "year": true, "number": true,
	"price": true, "image": true,
}

var validComplexities = map[string]bool{"simple": true, "standard": true, "complex": true}

// Validate checks a parser-produced requirement before the pipeline trusts
// it. The parser is a black box that can return malformed data; a validation
// failure here is a ParseFailure.
func (r *Requirement) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("requirement has no target")
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("requirement has no output fields")
	}
	for i, f := range r.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if !validFieldTypes[strings.ToLower(f.Type)] {
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
	}
	if r.Complexity != "" && !validComplexities[r.Complexity] {
		return fmt.Errorf("unknown complexity tier %q", r.Complexity)
	}
	if r.Scope.MaxPages < 0 || r.Scope.ItemLimit < 0 {
		return fmt.Errorf("scope bounds must be non-negative")
	}
	return nil
}

// ExpectedItems is the item count the retry engine measures full runs
// against. Zero means no declared expectation.
func (r *Requirement) ExpectedItems() int {
	return r.Scope.ItemLimit
}
