package mapper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTargets(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/directory")
	require.NoError(t, err)

	s := New(3)

	t.Run("resolves relative and filters cross-domain", func(t *testing.T) {
		t.Parallel()
		targets := s.resolveTargets(base, []string{
			"/companies/acme",
			"companies/globex",
			"https://example.com/companies/initech",
			"https://other.com/companies/hooli",
			"javascript:void(0)",
			"#top",
			"mailto:team@example.com",
		})
		assert.Equal(t, []string{
			"https://example.com/companies/acme",
			"https://example.com/companies/globex",
			"https://example.com/companies/initech",
		}, targets)
	})

	t.Run("caps at page limit", func(t *testing.T) {
		t.Parallel()
		var hrefs []string
		for i := 0; i < 10; i++ {
			hrefs = append(hrefs, fmt.Sprintf("/companies/%d", i))
		}
		assert.Len(t, s.resolveTargets(base, hrefs), 3)
	})

	t.Run("dedupes and skips the base page itself", func(t *testing.T) {
		t.Parallel()
		targets := s.resolveTargets(base, []string{
			"/companies/acme",
			"/companies/acme#reviews",
			"/directory",
		})
		assert.Equal(t, []string{"https://example.com/companies/acme"}, targets)
	})

	t.Run("www counts as same domain", func(t *testing.T) {
		t.Parallel()
		targets := s.resolveTargets(base, []string{"https://www.example.com/companies/acme"})
		assert.Len(t, targets, 1)
	})
}

func TestSamplePagesFetchesBoundedSet(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	for i := 0; i < 5; i++ {
		page := fmt.Sprintf("/companies/%d", i)
		mux.HandleFunc(page, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "<html><body><h1>Company %s</h1></body></html>", r.URL.Path)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := New(2)
	pages, err := s.SamplePages(context.Background(), srv.URL+"/directory", []string{
		"/companies/0", "/companies/1", "/companies/2", "/companies/3",
	})
	require.NoError(t, err)

	assert.Len(t, pages, 2)
	for _, p := range pages {
		assert.Contains(t, p.HTML, "<h1>Company /companies/")
	}
}

func TestSamplePagesNoTargets(t *testing.T) {
	t.Parallel()

	s := New(3)
	pages, err := s.SamplePages(context.Background(), "https://example.com/", []string{
		"https://elsewhere.com/x", "#frag",
	})
	require.NoError(t, err)
	assert.Empty(t, pages)
}
