package probe

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBotChallenge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		title  string
		body   string
		want   bool
	}{
		{"cloudflare interstitial title", 403, "Just a moment...", "", true},
		{"browser check title", 200, "Checking your browser before accessing", "", true},
		{"attention required", 403, "Attention Required! | Cloudflare", "", true},
		{"403 with ray id", 403, "Error", "Cloudflare says no. Ray ID: abc123", true},
		{"503 with cf-challenge", 503, "", `<div id="cf-challenge-running"></div>`, true},
		{"plain 403 without markers", 403, "Forbidden", "nope", false},
		{"normal page", 200, "Company Directory", "<html>...</html>", false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isBotChallenge(tc.status, tc.title, tc.body))
		})
	}
}

func TestStaticPassDecodesCompressedBodies(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Gadget Catalog</title></head><body><h1>Gadgets</h1></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(page))
		_ = gz.Close()
	}))
	defer srv.Close()

	s := New(30000, 2000, 4096)
	res := &Result{URL: srv.URL}
	s.staticPass(context.Background(), srv.URL, res)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEqual(t, "\x1f\x8b", res.StaticHTML[:2], "body must not be raw gzip bytes")
	assert.Contains(t, res.StaticHTML, "<title>Gadget Catalog</title>")
	assert.Equal(t, "Gadget Catalog", res.Title)
	assert.False(t, res.BotChallenge)
}

func TestDetectJSDependence(t *testing.T) {
	t.Parallel()

	s := New(30000, 2000, 4096)

	shell := `<html><body><div id="root"></div><script>app()</script></body></html>`
	full := `<html><body><div id="root"><ul>` +
		strings.Repeat(`<li>Acme Corporation, 123 Main Street, Springfield</li>`, 20) +
		`</ul></div></body></html>`

	t.Run("empty shell filled by scripts", func(t *testing.T) {
		t.Parallel()
		res := &Result{StaticHTML: shell, RenderedHTML: full}
		assert.True(t, s.detectJSDependence(res))
	})

	t.Run("server rendered page", func(t *testing.T) {
		t.Parallel()
		res := &Result{StaticHTML: full, RenderedHTML: full}
		assert.False(t, s.detectJSDependence(res))
	})

	t.Run("no rendered view", func(t *testing.T) {
		t.Parallel()
		res := &Result{StaticHTML: full}
		assert.False(t, s.detectJSDependence(res))
	})

	t.Run("static fetch blocked entirely", func(t *testing.T) {
		t.Parallel()
		res := &Result{RenderedHTML: full}
		assert.True(t, s.detectJSDependence(res))
	})
}

func TestVisibleTextLengthIgnoresScripts(t *testing.T) {
	t.Parallel()

	withScript := `<html><body><p>hello</p><script>` + strings.Repeat("x", 5000) + `</script></body></html>`
	assert.Less(t, visibleTextLength(withScript), 50)
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	assert.True(t, sameOrigin("https://example.com/page", "https://example.com/api/items"))
	assert.True(t, sameOrigin("https://Example.COM/", "https://example.com/data.json"))
	assert.False(t, sameOrigin("https://example.com/", "https://cdn.example.net/data.json"))
}

func TestBestHTMLPrefersRendered(t *testing.T) {
	t.Parallel()

	res := &Result{StaticHTML: "static", RenderedHTML: "rendered"}
	assert.Equal(t, "rendered", res.BestHTML())

	res = &Result{StaticHTML: "static", RenderedHTML: "  "}
	assert.Equal(t, "static", res.BestHTML())
}

func TestHeaderProfilesStayCoherent(t *testing.T) {
	t.Parallel()

	for _, strategy := range GetAllStrategies() {
		profile := GetHeaderProfile(strategy)
		assert.NotEmpty(t, profile.UserAgent, "strategy %s", strategy)

		headers := profile.Headers()
		assert.Contains(t, headers, "Accept")
		if profile.SecChUa == "" {
			assert.NotContains(t, headers, "Sec-Ch-Ua")
		}
		if profile.SecFetchDest == "" {
			assert.NotContains(t, headers, "Sec-Fetch-Dest")
		}
	}
}
