package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"codegen/internal/logger"
	"codegen/internal/utils/markdown"
)

// APIObservation is a structured-looking response captured while the page
// loaded. Scripts can often hit these endpoints directly instead of parsing
// the DOM.
type APIObservation struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Status      int    `json:"status"`
	Snippet     string `json:"snippet"`
}

// Result is everything one reconnaissance pass learned about a page.
type Result struct {
	URL        string `json:"url"`
	FinalURL   string `json:"final_url,omitempty"`
	StatusCode int    `json:"status_code"`
	Title      string `json:"title,omitempty"`

	StaticHTML   string `json:"-"`
	RenderedHTML string `json:"-"`
	Markdown     string `json:"markdown,omitempty"`

	NeedsJS        bool             `json:"needs_js"`
	BotChallenge   bool             `json:"bot_challenge"`
	InfiniteScroll bool             `json:"infinite_scroll"`
	StructuredAPIs []APIObservation `json:"structured_apis,omitempty"`
	ConsoleErrors  []string         `json:"console_errors,omitempty"`

	Degraded bool     `json:"degraded"`
	Errors   []string `json:"errors,omitempty"`
}

// BestHTML prefers the rendered DOM and falls back to the static fetch.
func (r *Result) BestHTML() string {
	if strings.TrimSpace(r.RenderedHTML) != "" {
		return r.RenderedHTML
	}
	return r.StaticHTML
}

// HasStructuredAPIs reports whether the page loads its data over JSON
// endpoints the generated script could call directly.
func (r *Result) HasStructuredAPIs() bool { return len(r.StructuredAPIs) > 0 }

const (
	maxCapturedAPIs      = 10
	maxConsoleErrors     = 20
	scrollGrowthMinChars = 500
)

type Service struct {
	log         *logger.Logger
	timeout     time.Duration
	settleDelay time.Duration
	bodyCap     int
}

func New(probeTimeoutMs, settleDelayMs, responseBodyCap int) *Service {
	return &Service{
		log:         logger.New("Probe"),
		timeout:     time.Duration(probeTimeoutMs) * time.Millisecond,
		settleDelay: time.Duration(settleDelayMs) * time.Millisecond,
		bodyCap:     responseBodyCap,
	}
}

// Probe fetches the page twice, once over plain HTTP and once through a real
// browser, and compares the two views. It degrades instead of failing: a
// Result always comes back, with Degraded set when neither pass produced
// usable HTML.
func (s *Service) Probe(ctx context.Context, pageURL string) (*Result, error) {
	res := &Result{URL: pageURL}

	s.staticPass(ctx, pageURL, res)
	if err := s.renderedPass(ctx, pageURL, res); err != nil {
		res.Errors = append(res.Errors, err.Error())
		s.log.LogWarnf("Browser pass failed for %s: %v", pageURL, err)
	}

	if strings.TrimSpace(res.BestHTML()) == "" {
		res.Degraded = true
		return res, fmt.Errorf("probe produced no usable HTML for %s", pageURL)
	}

	res.NeedsJS = s.detectJSDependence(res)
	res.Markdown = markdown.CleanMarkdownBoilerplate(markdown.ConvertHTMLToMarkdown(res.BestHTML()))

	s.log.Info().
		Str("url", pageURL).
		Bool("needs_js", res.NeedsJS).
		Bool("bot_challenge", res.BotChallenge).
		Bool("infinite_scroll", res.InfiniteScroll).
		Int("apis", len(res.StructuredAPIs)).
		Msg("probe complete")
	return res, nil
}

// staticPass does the cheap first look: a plain GET with realistic headers,
// trying each identity family until one gets through.
func (s *Service) staticPass(ctx context.Context, pageURL string, res *Result) {
	client := &http.Client{Timeout: 15 * time.Second}

	for _, strategy := range GetAllStrategies() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("static fetch: %v", err))
			return
		}
		profile := GetHeaderProfile(strategy)
		req.Header.Set("User-Agent", profile.UserAgent)
		for k, v := range profile.Headers() {
			// Setting Accept-Encoding ourselves would disable the
			// transport's transparent decompression and leave the body
			// as raw gzip bytes. Only a real browser decodes these.
			if k == "Accept-Encoding" {
				continue
			}
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("static fetch (%s): %v", strategy, err))
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("static read (%s): %v", strategy, readErr))
			continue
		}

		res.StatusCode = resp.StatusCode
		res.StaticHTML = string(body)
		if title := extractTitle(res.StaticHTML); title != "" {
			res.Title = title
		}
		if isBotChallenge(resp.StatusCode, res.Title, res.StaticHTML) {
			res.BotChallenge = true
			s.log.LogWarnf("Bot challenge detected for %s with strategy %s", pageURL, strategy)
			continue
		}
		return
	}
}

// renderedPass drives a real Chromium through the page and watches what the
// page does: console errors, JSON traffic, and growth after a scroll.
func (s *Service) renderedPass(ctx context.Context, pageURL string, res *Result) error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("playwright run: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
			"--no-first-run",
			"--disable-default-apps",
			"--disable-extensions",
		},
	})
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	defer browser.Close()

	profile := GetHeaderProfile(StrategyModernBrowser)
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(profile.UserAgent),
		ExtraHttpHeaders: profile.Headers(),
	})
	if err != nil {
		return err
	}
	page, err := bctx.NewPage()
	if err != nil {
		return err
	}

	page.OnConsole(func(msg playwright.ConsoleMessage) {
		if msg.Type() == "error" && len(res.ConsoleErrors) < maxConsoleErrors {
			res.ConsoleErrors = append(res.ConsoleErrors, msg.Text())
		}
	})
	page.OnResponse(func(resp playwright.Response) {
		s.captureStructuredResponse(pageURL, resp, res)
	})

	navTimeout := float64(s.timeout.Milliseconds())
	resp, navErr := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(navTimeout / 3),
	})
	if navErr != nil {
		// Some pages never fire DOMContentLoaded cleanly, retry on full load.
		resp, navErr = page.Goto(pageURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
			Timeout:   playwright.Float(navTimeout),
		})
		if navErr != nil {
			return fmt.Errorf("goto failed: %w", navErr)
		}
	}

	// Let XHR-driven pages settle before reading the DOM.
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(s.settleDelay.Milliseconds()) * 3),
	})
	page.WaitForTimeout(float64(s.settleDelay.Milliseconds()))

	content, err := page.Content()
	if err != nil {
		return err
	}
	res.RenderedHTML = content
	res.FinalURL = page.URL()
	if title, terr := page.Title(); terr == nil && title != "" {
		res.Title = title
	}
	if resp != nil {
		res.StatusCode = resp.Status()
	}
	if isBotChallenge(res.StatusCode, res.Title, content) {
		res.BotChallenge = true
	}

	res.InfiniteScroll = s.sniffInfiniteScroll(page, content)
	return nil
}

// captureStructuredResponse records same-origin JSON responses, the signature
// of a client-rendered listing.
func (s *Service) captureStructuredResponse(pageURL string, resp playwright.Response, res *Result) {
	if len(res.StructuredAPIs) >= maxCapturedAPIs {
		return
	}
	ct, err := resp.HeaderValue("content-type")
	if err != nil || !strings.Contains(ct, "application/json") {
		return
	}
	if !sameOrigin(pageURL, resp.URL()) {
		return
	}
	body, err := resp.Body()
	if err != nil || len(body) == 0 {
		return
	}
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return
	}
	if len(trimmed) > s.bodyCap {
		cut := s.bodyCap
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut]
	}
	res.StructuredAPIs = append(res.StructuredAPIs, APIObservation{
		URL:         resp.URL(),
		ContentType: ct,
		Status:      resp.Status(),
		Snippet:     trimmed,
	})
}

// sniffInfiniteScroll scrolls to the bottom once and checks whether the DOM
// grew by a meaningful amount.
func (s *Service) sniffInfiniteScroll(page playwright.Page, beforeHTML string) bool {
	before := visibleTextLength(beforeHTML)
	if _, err := page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		return false
	}
	page.WaitForTimeout(float64(s.settleDelay.Milliseconds()))

	after, err := page.Content()
	if err != nil {
		return false
	}
	grew := visibleTextLength(after) - before
	if grew >= scrollGrowthMinChars {
		s.log.LogDebugf("Infinite scroll suspected: %d chars appeared after one scroll", grew)
		return true
	}
	return false
}

// detectJSDependence compares what the two passes saw. A rendered view with
// substantially more text than the raw HTML means the listing is built by
// JavaScript.
func (s *Service) detectJSDependence(res *Result) bool {
	if res.RenderedHTML == "" {
		return false
	}
	if res.StaticHTML == "" {
		return true
	}
	staticLen := visibleTextLength(res.StaticHTML)
	renderedLen := visibleTextLength(res.RenderedHTML)
	if staticLen < 200 {
		return renderedLen > 400
	}
	return float64(renderedLen) > float64(staticLen)*1.3
}

func visibleTextLength(htmlStr string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return len(htmlStr)
	}
	doc.Find("script, style, noscript").Remove()
	return len(strings.TrimSpace(doc.Text()))
}

func extractTitle(htmlStr string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"attention required",
	"access denied",
	"verify you are human",
}

// isBotChallenge recognizes interstitial pages served instead of content.
func isBotChallenge(status int, title, body string) bool {
	lowTitle := strings.ToLower(title)
	for _, marker := range challengeTitles {
		if strings.Contains(lowTitle, marker) {
			return true
		}
	}
	if status == 403 || status == 503 {
		if strings.Contains(body, "cf-challenge") ||
			(strings.Contains(body, "Cloudflare") && strings.Contains(body, "Ray ID")) {
			return true
		}
	}
	return false
}

func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}
