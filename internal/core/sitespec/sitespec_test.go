package sitespec_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen/internal/core/selector"
	"codegen/internal/core/sitespec"
)

func TestConfidence(t *testing.T) {
	t.Parallel()

	t.Run("stays within the unit interval", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "Example").Build()
		for i := 0; i < 20; i++ {
			spec.Uncertainties = append(spec.Uncertainties, "note")
		}
		assert.GreaterOrEqual(t, spec.Confidence(), 0.0)
		assert.LessOrEqual(t, spec.Confidence(), 1.0)

		full := spec.WithMicroTest(sitespec.MicroTest{Success: true, ItemCount: 10})
		full.Uncertainties = nil
		full.ListingSelector = "div.card"
		full.DetailLinkSelector = "div.card > a"
		assert.LessOrEqual(t, full.Confidence(), 1.0)
	})

	t.Run("strictly increases after a clean micro-test", func(t *testing.T) {
		t.Parallel()
		before := sitespec.NewBuilder("https://example.com", "Example").
			Listing([]selector.Candidate{{Selector: "div.card", Count: 12, Score: 3}}).
			Build()

		after := before.WithMicroTest(sitespec.MicroTest{Success: true, ItemCount: 4, FieldErrors: 0})
		assert.Greater(t, after.Confidence(), before.Confidence())
	})

	t.Run("listing and detail-link selectors add their bonuses", func(t *testing.T) {
		t.Parallel()
		bare := sitespec.NewBuilder("https://example.com", "").Build()
		withListing := sitespec.NewBuilder("https://example.com", "").
			Listing([]selector.Candidate{{Selector: "div.card", Count: 5}}).
			DetailLink([]selector.Candidate{{Selector: "div.card > a", Count: 5}}).
			Build()
		assert.InDelta(t, bare.Confidence()+0.15, withListing.Confidence(), 0.001)
	})

	t.Run("each uncertainty costs a nickel", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "").Build()
		base := spec.Confidence()
		spec.Uncertainties = append(spec.Uncertainties, "no selector candidate for field email")
		assert.InDelta(t, base-0.05, spec.Confidence(), 0.001)
	})
}

func TestReadyForSynthesis(t *testing.T) {
	t.Parallel()

	t.Run("below the cutoff is not ready", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "").Build()
		assert.False(t, spec.ReadyForSynthesis(0.7))
	})

	t.Run("listing extraction overrides a failed field micro-test", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "").
			Listing([]selector.Candidate{{Selector: "div.card", Count: 12}}).
			Uncertainty("field email only exists on detail pages").
			Uncertainty("field phone only exists on detail pages").
			Build()
		spec = spec.WithMicroTest(sitespec.MicroTest{Success: false, ItemCount: 12, FieldErrors: 2})

		assert.LessOrEqual(t, spec.Confidence(), 0.7)
		assert.True(t, spec.ReadyForSynthesis(0.7))
	})

	t.Run("no listing selector means no override", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "").Build()
		spec = spec.WithMicroTest(sitespec.MicroTest{Success: false, ItemCount: 3})
		assert.False(t, spec.ReadyForSynthesis(0.7))
	})
}

func TestClone(t *testing.T) {
	t.Parallel()

	t.Run("bumps the version and isolates mutable state", func(t *testing.T) {
		t.Parallel()
		orig := sitespec.NewBuilder("https://example.com", "Example").
			Listing([]selector.Candidate{{Selector: "div.card", Count: 8}}).
			Field(selector.FieldSpec{Name: "name", Type: "name"},
				[]selector.Candidate{{Selector: ".company-name", Score: 5, Sample: "Acme"}}).
			Build()
		require.Equal(t, 1, orig.Version)

		next := orig.Clone()
		assert.Equal(t, 2, next.Version)

		next.FieldMappings["name"] = sitespec.FieldMapping{Selector: ".other"}
		next.Uncertainties = append(next.Uncertainties, "changed")
		assert.Equal(t, ".company-name", orig.FieldMappings["name"].Selector)
		assert.Empty(t, orig.Uncertainties)
	})
}

func TestBuilder(t *testing.T) {
	t.Parallel()

	t.Run("records an uncertainty when no listing pattern exists", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "").Listing(nil).Build()
		assert.NotEmpty(t, spec.Uncertainties)
	})

	t.Run("url fields extract the href attribute", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "").
			Field(selector.FieldSpec{Name: "website", Type: "url"},
				[]selector.Candidate{{Selector: "a.site", Score: 4, SampleHref: "https://acme.com"}}).
			Build()
		require.Contains(t, spec.FieldMappings, "website")
		assert.Equal(t, "href", spec.FieldMappings["website"].Attribute)
	})

	t.Run("infinite scroll wins over a next link", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "").
			Flags(true, true, false, false).
			PaginationFrom([]selector.Candidate{{Selector: "a.next", Score: 4}}).
			Build()
		assert.Equal(t, "infinite_scroll", spec.Pagination.Type)
	})
}

func TestPageDigest(t *testing.T) {
	t.Parallel()

	t.Run("carried on the spec and through clones", func(t *testing.T) {
		t.Parallel()
		spec := sitespec.NewBuilder("https://example.com", "Example").
			PageDigest("# Companies\n\n- Acme Corp, founded 1999").
			Build()
		require.NotEmpty(t, spec.PageDigest)
		assert.Equal(t, spec.PageDigest, spec.Clone().PageDigest)
	})

	t.Run("truncates long digests on a rune boundary", func(t *testing.T) {
		t.Parallel()
		long := strings.Repeat("日本語テキスト", 1000)
		spec := sitespec.NewBuilder("https://example.com", "").
			PageDigest(long).
			Build()
		assert.LessOrEqual(t, len(spec.PageDigest), 6000)
		assert.True(t, utf8.ValidString(spec.PageDigest))
	})
}
