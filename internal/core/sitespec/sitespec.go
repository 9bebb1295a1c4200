package sitespec

import (
	"time"
	"unicode/utf8"

	"codegen/internal/core/selector"
)

// FieldMapping describes how one output field is extracted.
type FieldMapping struct {
	Selector  string  `json:"selector"`
	Attribute string  `json:"attribute,omitempty"` // empty means text content
	Source    string  `json:"source"`              // "listing_page" or "detail_page"
	Score     float64 `json:"score"`
}

// Pagination describes how to reach subsequent pages.
type Pagination struct {
	Type     string            `json:"type"` // "next_link", "load_more", "infinite_scroll", "none"
	Selector string            `json:"selector,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// MicroTest summarizes a bounded sample-scale validation run.
type MicroTest struct {
	Success     bool `json:"success"`
	ItemCount   int  `json:"item_count"`
	FieldErrors int  `json:"field_errors"`
}

// SiteSpec is the structured, versioned description of how to extract data
// from one target page. Specs are never mutated in place: a refinement or
// retry clones the current version and supersedes it.
type SiteSpec struct {
	Version   int       `json:"version"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`

	NeedsJS           bool `json:"needs_js"`
	InfiniteScroll    bool `json:"infinite_scroll"`
	BotChallenge      bool `json:"bot_challenge"`
	HasStructuredAPIs bool `json:"has_structured_apis"`

	ListingSelector    string                  `json:"listing_selector,omitempty"`
	DetailLinkSelector string                  `json:"detail_link_selector,omitempty"`
	FieldMappings      map[string]FieldMapping `json:"field_mappings,omitempty"`
	Pagination         Pagination              `json:"pagination"`
	WaitSelectors      []string                `json:"wait_selectors,omitempty"`

	Tool          string     `json:"tool"`
	ToolRationale string     `json:"tool_rationale,omitempty"`
	Uncertainties []string   `json:"uncertainties,omitempty"`
	MicroTest     *MicroTest `json:"micro_test,omitempty"`

	// PageDigest is a bounded markdown rendering of the probed page,
	// carried for LLM context during synthesis.
	PageDigest string `json:"page_digest,omitempty"`
}

// Clone returns a deep copy with the version bumped, ready to be modified
// into the next authoritative spec.
func (s *SiteSpec) Clone() *SiteSpec {
	next := *s
	next.Version = s.Version + 1
	next.CreatedAt = time.Now()
	next.FieldMappings = make(map[string]FieldMapping, len(s.FieldMappings))
	for k, v := range s.FieldMappings {
		next.FieldMappings[k] = v
	}
	next.WaitSelectors = append([]string(nil), s.WaitSelectors...)
	next.Uncertainties = append([]string(nil), s.Uncertainties...)
	if s.MicroTest != nil {
		mt := *s.MicroTest
		next.MicroTest = &mt
	}
	if s.Pagination.Params != nil {
		next.Pagination.Params = make(map[string]string, len(s.Pagination.Params))
		for k, v := range s.Pagination.Params {
			next.Pagination.Params[k] = v
		}
	}
	return &next
}

// WithMicroTest returns a new version carrying the micro-test outcome.
func (s *SiteSpec) WithMicroTest(mt MicroTest) *SiteSpec {
	next := s.Clone()
	next.MicroTest = &mt
	return next
}

// Confidence computes the clipped [0,1] confidence for the spec as it
// currently stands: 0.5 base, micro-test bonuses, selector-presence bonuses,
// and a penalty per recorded uncertainty.
func (s *SiteSpec) Confidence() float64 {
	c := 0.5
	if s.MicroTest != nil {
		if s.MicroTest.Success {
			c += 0.3
		}
		if s.MicroTest.ItemCount >= 1 {
			c += 0.1
		}
		if s.MicroTest.FieldErrors == 0 {
			c += 0.1
		}
	}
	if s.ListingSelector != "" {
		c += 0.1
	}
	if s.DetailLinkSelector != "" {
		c += 0.05
	}
	c -= 0.05 * float64(len(s.Uncertainties))

	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ReadyForSynthesis reports whether the spec is confident enough to hand to
// the synthesizer. Below the cutoff there is one explicit override: a
// listing selector that already demonstrated non-zero extraction on the
// micro-test, because multi-page jobs legitimately fail field-level
// micro-tests on the listing page when those fields only exist on detail
// pages.
func (s *SiteSpec) ReadyForSynthesis(cutoff float64) bool {
	if s.Confidence() > cutoff {
		return true
	}
	return s.ListingSelector != "" && s.MicroTest != nil && s.MicroTest.ItemCount > 0
}

// Builder aggregates scored candidates and probe findings into a SiteSpec.
type Builder struct {
	url   string
	title string
	spec  *SiteSpec
}

func NewBuilder(url, title string) *Builder {
	return &Builder{spec: &SiteSpec{
		Version:       1,
		URL:           url,
		Title:         title,
		CreatedAt:     time.Now(),
		FieldMappings: map[string]FieldMapping{},
		Pagination:    Pagination{Type: "none"},
	}}
}

func (b *Builder) Flags(needsJS, infiniteScroll, botChallenge, hasAPIs bool) *Builder {
	b.spec.NeedsJS = needsJS
	b.spec.InfiniteScroll = infiniteScroll
	b.spec.BotChallenge = botChallenge
	b.spec.HasStructuredAPIs = hasAPIs
	if infiniteScroll {
		b.spec.Pagination = Pagination{Type: "infinite_scroll"}
	}
	return b
}

// Listing takes the winning listing candidate, or records an uncertainty
// when none met the occurrence bounds.
func (b *Builder) Listing(cands []selector.Candidate) *Builder {
	if best, ok := selector.Best(cands); ok {
		b.spec.ListingSelector = best.Selector
		b.spec.WaitSelectors = append(b.spec.WaitSelectors, best.Selector)
	} else {
		b.Uncertainty("no repeated listing pattern found on the page")
	}
	return b
}

func (b *Builder) DetailLink(cands []selector.Candidate) *Builder {
	if best, ok := selector.Best(cands); ok {
		b.spec.DetailLinkSelector = best.Selector
	}
	return b
}

func (b *Builder) PaginationFrom(cands []selector.Candidate) *Builder {
	if b.spec.Pagination.Type == "infinite_scroll" {
		return b
	}
	if best, ok := selector.Best(cands); ok {
		b.spec.Pagination = Pagination{Type: "next_link", Selector: best.Selector}
	}
	return b
}

// Field maps one output field to its winning candidate, or records an
// uncertainty when no candidate scored above zero.
func (b *Builder) Field(field selector.FieldSpec, cands []selector.Candidate) *Builder {
	best, ok := selector.Best(cands)
	if !ok || best.Score <= 0 {
		b.Uncertainty("no selector candidate for field " + field.Name)
		return b
	}
	attr := ""
	t := field.Type
	if t == "url" || t == "link" || t == "website" {
		attr = "href"
	}
	if t == "image" {
		attr = "src"
	}
	source := "listing_page"
	if best.Pages > 1 {
		source = "detail_page"
	}
	b.spec.FieldMappings[field.Name] = FieldMapping{
		Selector:  best.Selector,
		Attribute: attr,
		Source:    source,
		Score:     best.Score,
	}
	return b
}

const pageDigestMaxLen = 6000

// PageDigest attaches a markdown rendering of the page, truncated on a rune
// boundary so the stored digest stays valid UTF-8.
func (b *Builder) PageDigest(md string) *Builder {
	if len(md) > pageDigestMaxLen {
		cut := pageDigestMaxLen
		for cut > 0 && !utf8.RuneStart(md[cut]) {
			cut--
		}
		md = md[:cut]
	}
	b.spec.PageDigest = md
	return b
}

func (b *Builder) Tool(tool, rationale string) *Builder {
	b.spec.Tool = tool
	b.spec.ToolRationale = rationale
	return b
}

func (b *Builder) Uncertainty(note string) *Builder {
	b.spec.Uncertainties = append(b.spec.Uncertainties, note)
	return b
}

func (b *Builder) Build() *SiteSpec {
	return b.spec
}
