package selector_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen/internal/core/selector"
)

func cardPage(cards int) string {
	var b strings.Builder
	b.WriteString("<html><body><h1>Directory</h1>")
	for i := 0; i < cards; i++ {
		fmt.Fprintf(&b, `<div class="card"><a href="/profile/%d">Person %d</a></div>`, i, i)
	}
	b.WriteString(`<a rel="next" href="/page/2">Next</a></body></html>`)
	return b.String()
}

func TestListingCandidates(t *testing.T) {
	t.Parallel()
	sc := selector.New(3, 1000)

	t.Run("counts stay within the occurrence bounds", func(t *testing.T) {
		t.Parallel()
		d, err := sc.Digest(cardPage(12))
		require.NoError(t, err)
		for _, c := range sc.ListingCandidates(d) {
			assert.GreaterOrEqual(t, c.Count, 3, "selector %s", c.Selector)
			assert.LessOrEqual(t, c.Count, 1000, "selector %s", c.Selector)
		}
	})

	t.Run("ranks the repeated card path above single-occurrence paths", func(t *testing.T) {
		t.Parallel()
		d, err := sc.Digest(cardPage(12))
		require.NoError(t, err)

		cands := sc.ListingCandidates(d)
		require.NotEmpty(t, cands)

		best, ok := selector.Best(cands)
		require.True(t, ok)
		assert.Contains(t, best.Selector, "div.card")
		assert.Equal(t, 12, best.Count)
		for _, c := range cands {
			assert.NotEqual(t, 1, c.Count, "single-occurrence path proposed: %s", c.Selector)
		}
	})

	t.Run("two repeats are below the pattern threshold", func(t *testing.T) {
		t.Parallel()
		d, err := sc.Digest(cardPage(2))
		require.NoError(t, err)
		for _, c := range sc.ListingCandidates(d) {
			assert.NotContains(t, c.Selector, "div.card")
		}
	})

	t.Run("multibyte item text truncates to valid UTF-8", func(t *testing.T) {
		t.Parallel()
		var b strings.Builder
		b.WriteString("<html><body>")
		for i := 0; i < 4; i++ {
			fmt.Fprintf(&b, `<div class="entry">x%s</div>`, strings.Repeat("寿司屋ガイド", 20))
		}
		b.WriteString("</body></html>")
		d, err := sc.Digest(b.String())
		require.NoError(t, err)

		cands := sc.ListingCandidates(d)
		require.NotEmpty(t, cands)
		for _, c := range cands {
			assert.True(t, utf8.ValidString(c.Sample), "selector %s sample split a rune", c.Selector)
		}
	})

	t.Run("paths above the upper bound are rejected as noise", func(t *testing.T) {
		t.Parallel()
		small := selector.New(3, 10)
		d, err := small.Digest(cardPage(12))
		require.NoError(t, err)
		for _, c := range small.ListingCandidates(d) {
			assert.NotContains(t, c.Selector, "div.card")
		}
	})
}

func TestDetailLinkCandidates(t *testing.T) {
	t.Parallel()
	sc := selector.New(3, 1000)

	t.Run("excludes javascript, mailto, and tel targets", func(t *testing.T) {
		t.Parallel()
		page := `<html><body>
			<a href="javascript:void(0)">Run</a>
			<a href="mailto:a@b.com">Mail</a>
			<a href="tel:+123">Call</a>
			<a href="/item/1">Item one</a>
			<a href="/item/2">Item two</a>
			<a href="/item/3">Item three</a>
		</body></html>`
		d, err := sc.Digest(page)
		require.NoError(t, err)

		cands := sc.DetailLinkCandidates(d)
		require.NotEmpty(t, cands)
		total := 0
		for _, c := range cands {
			total += c.Count
			assert.True(t, strings.HasPrefix(c.SampleHref, "/item/"))
		}
		assert.Equal(t, 3, total)
	})

	t.Run("ignores anchors without text", func(t *testing.T) {
		t.Parallel()
		d, err := sc.Digest(`<html><body><a href="/x"></a></body></html>`)
		require.NoError(t, err)
		assert.Empty(t, sc.DetailLinkCandidates(d))
	})
}

func TestPaginationCandidates(t *testing.T) {
	t.Parallel()
	sc := selector.New(3, 1000)

	t.Run("prefers rel=next over text heuristics", func(t *testing.T) {
		t.Parallel()
		d, err := sc.Digest(cardPage(5))
		require.NoError(t, err)

		cands := sc.PaginationCandidates(d)
		require.NotEmpty(t, cands)
		assert.Contains(t, strings.ToLower(cands[0].Sample), "next")
	})

	t.Run("matches load-more buttons and page numbers", func(t *testing.T) {
		t.Parallel()
		page := `<html><body>
			<button class="pager">Load more results</button>
			<a href="/p/2">2</a>
			<span>unrelated text</span>
		</body></html>`
		d, err := sc.Digest(page)
		require.NoError(t, err)

		cands := sc.PaginationCandidates(d)
		require.Len(t, cands, 2)
		assert.Contains(t, strings.ToLower(cands[0].Sample), "load more")
	})
}

func TestScoreFieldCandidate(t *testing.T) {
	t.Parallel()

	field := selector.FieldSpec{Name: "linkedin_url", Type: "url"}

	t.Run("rewards name containment and shape match", func(t *testing.T) {
		t.Parallel()
		c := selector.Candidate{
			Selector:   ".linkedin-url",
			Sample:     "LinkedIn",
			SampleHref: "https://linkedin.com/in/someone",
		}
		// base 1 + name containment 2 + shape match 2
		assert.InDelta(t, 5.0, selector.ScoreFieldCandidate(c, field), 0.001)
	})

	t.Run("rewards specific addressing", func(t *testing.T) {
		t.Parallel()
		c := selector.Candidate{
			Selector:   "[data-linkedin-url]",
			SampleHref: "https://linkedin.com/in/someone",
		}
		assert.InDelta(t, 6.0, selector.ScoreFieldCandidate(c, field), 0.001)
	})

	t.Run("penalizes maximally generic tags", func(t *testing.T) {
		t.Parallel()
		c := selector.Candidate{Selector: "a", SampleHref: "relative/path"}
		// base 1 - bare tag 1, no shape match on a scheme-less href
		assert.InDelta(t, 0.0, selector.ScoreFieldCandidate(c, field), 0.001)
	})

	t.Run("matches year shapes for date fields", func(t *testing.T) {
		t.Parallel()
		c := selector.Candidate{Selector: "time", Sample: "Founded 1987"}
		score := selector.ScoreFieldCandidate(c, selector.FieldSpec{Name: "founded", Type: "year"})
		assert.InDelta(t, 3.0, score, 0.001)
	})
}

func TestFieldCandidates(t *testing.T) {
	t.Parallel()
	sc := selector.New(3, 1000)

	t.Run("finds class name matches and social anchors", func(t *testing.T) {
		t.Parallel()
		page := `<html><body>
			<div class="company-name">Acme Corp</div>
			<a href="https://linkedin.com/company/acme">LinkedIn</a>
			<a href="/about">About</a>
		</body></html>`
		d, err := sc.Digest(page)
		require.NoError(t, err)

		nameCands := sc.FieldCandidates(d, selector.FieldSpec{Name: "company_name", Type: "name"})
		require.NotEmpty(t, nameCands)
		best, _ := selector.Best(nameCands)
		assert.Equal(t, ".company-name", best.Selector)

		urlCands := sc.FieldCandidates(d, selector.FieldSpec{Name: "linkedin", Type: "url"})
		require.NotEmpty(t, urlCands)
		found := false
		for _, c := range urlCands {
			if strings.Contains(c.Selector, "linkedin.com") {
				found = true
			}
		}
		assert.True(t, found, "expected a linkedin.com anchor candidate")
	})

	t.Run("drops utility classes that make unusable selectors", func(t *testing.T) {
		t.Parallel()
		page := `<html><body>
			<div class="md:name-wrap">Acme Corp</div>
			<div class="company-name">Acme Corp</div>
		</body></html>`
		d, err := sc.Digest(page)
		require.NoError(t, err)

		cands := sc.FieldCandidates(d, selector.FieldSpec{Name: "name", Type: "name"})
		require.NotEmpty(t, cands)
		for _, c := range cands {
			assert.NotEqual(t, ".md:name-wrap", c.Selector)
			assert.GreaterOrEqual(t, c.Count, 1, "selector %s matches nothing", c.Selector)
		}
	})

	t.Run("samples stay valid UTF-8 after truncation", func(t *testing.T) {
		t.Parallel()
		page := `<html><body><div class="company-name">ab` + strings.Repeat("株式会社", 30) + `</div></body></html>`
		d, err := sc.Digest(page)
		require.NoError(t, err)

		cands := sc.FieldCandidates(d, selector.FieldSpec{Name: "company_name", Type: "name"})
		require.NotEmpty(t, cands)
		for _, c := range cands {
			assert.LessOrEqual(t, len(c.Sample), 120)
			assert.True(t, utf8.ValidString(c.Sample), "selector %s sample split a rune", c.Selector)
		}
	})
}

func TestRankAcrossPages(t *testing.T) {
	t.Parallel()

	t.Run("consistency across pages outranks a single strong match", func(t *testing.T) {
		t.Parallel()
		pageOne := []selector.Candidate{
			{Selector: ".flashy", Score: 6, Sample: "value"},
			{Selector: ".steady", Score: 3, Sample: "value"},
		}
		pageTwo := []selector.Candidate{
			{Selector: ".flashy", Score: 6, Sample: ""},
			{Selector: ".steady", Score: 3, Sample: "value"},
		}
		pageThree := []selector.Candidate{
			{Selector: ".steady", Score: 3, Sample: "value"},
		}

		ranked := selector.RankAcrossPages([][]selector.Candidate{pageOne, pageTwo, pageThree})
		require.Len(t, ranked, 2)
		assert.Equal(t, ".steady", ranked[0].Selector)
		assert.Equal(t, 3, ranked[0].Pages)
	})

	t.Run("average score breaks page-count ties", func(t *testing.T) {
		t.Parallel()
		page := []selector.Candidate{
			{Selector: ".weak", Score: 2, Sample: "v"},
			{Selector: ".strong", Score: 5, Sample: "v"},
		}
		ranked := selector.RankAcrossPages([][]selector.Candidate{page})
		require.Len(t, ranked, 2)
		assert.Equal(t, ".strong", ranked[0].Selector)
	})
}
