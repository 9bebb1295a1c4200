package mapper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly"

	"codegen/internal/logger"
)

// SamplePage is one fetched detail page used to validate field selectors
// beyond the listing page.
type SamplePage struct {
	URL  string
	HTML string
}

// Service fetches a small, bounded set of same-domain pages. Candidate
// detail links come from the listing analysis; this only resolves and
// retrieves them.
type Service struct {
	log       *logger.Logger
	pageLimit int
}

func New(pageLimit int) *Service {
	if pageLimit < 1 {
		pageLimit = 1
	}
	return &Service{log: logger.New("Mapper"), pageLimit: pageLimit}
}

// SamplePages resolves hrefs against baseURL, keeps same-domain ones, and
// fetches up to the configured page limit. Individual fetch failures are
// logged and skipped, the pipeline can validate with whatever came back.
func (s *Service) SamplePages(ctx context.Context, baseURL string, hrefs []string) ([]SamplePage, error) {
	base, err := url.Parse(cleanURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	targets := s.resolveTargets(base, hrefs)
	if len(targets) == 0 {
		return nil, nil
	}

	var (
		mu    sync.Mutex
		pages []SamplePage
	)
	c := colly.NewCollector(colly.MaxDepth(1), colly.Async(true))
	c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 3, RandomDelay: 300 * time.Millisecond})

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})
	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		pages = append(pages, SamplePage{URL: r.Request.URL.String(), HTML: string(r.Body)})
	})
	c.OnError(func(r *colly.Response, err error) {
		s.log.LogWarnf("Sample fetch failed %s: %v", r.Request.URL, err)
	})

	for _, t := range targets {
		_ = c.Visit(t)
	}
	c.Wait()

	s.log.LogInfof("Fetched %d/%d sample pages from %s", len(pages), len(targets), base.Host)
	return pages, nil
}

// resolveTargets turns raw hrefs into a deduplicated same-domain target list
// capped at the page limit.
func (s *Service) resolveTargets(base *url.URL, hrefs []string) []string {
	seen := make(map[string]struct{})
	var targets []string
	for _, href := range hrefs {
		if len(targets) >= s.pageLimit {
			break
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if !domainsMatch(abs.Hostname(), base.Hostname()) {
			continue
		}
		key := abs.String()
		if key == base.String() {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, key)
	}
	return targets
}

func cleanURL(u string) string {
	if !strings.HasPrefix(u, "http") {
		u = "https://" + u
	}
	return u
}

func domainsMatch(a, b string) bool {
	a = strings.TrimPrefix(a, "www.")
	b = strings.TrimPrefix(b, "www.")
	return strings.EqualFold(a, b)
}
