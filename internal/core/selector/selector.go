package selector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"codegen/internal/logger"
)

// Role is what a candidate selector is proposed to address.
type Role string

const (
	RoleListing    Role = "listing_item"
	RoleDetailLink Role = "detail_link"
	RolePagination Role = "pagination"
	RoleField      Role = "field"
)

// Candidate is a scored, unconfirmed addressing expression discovered on a
// probed page.
type Candidate struct {
	Selector   string  `json:"selector"`
	Count      int     `json:"count"`
	Score      float64 `json:"score"`
	Sample     string  `json:"sample,omitempty"`
	SampleHref string  `json:"sample_href,omitempty"`
	Role       Role    `json:"role"`
	Field      string  `json:"field,omitempty"`
	Pages      int     `json:"pages,omitempty"`
}

// FieldSpec is the slice of a requirement the scorer needs: a field name and
// its declared semantic type.
type FieldSpec struct {
	Name     string
	Type     string
	Required bool
}

// Scorer turns probed HTML into scored candidates per role. Occurrence
// bounds for listing detection are tunable.
type Scorer struct {
	minCount int
	maxCount int
	log      *logger.Logger
}

func New(minCount, maxCount int) *Scorer {
	if minCount <= 0 {
		minCount = 3
	}
	if maxCount <= 0 {
		maxCount = 1000
	}
	return &Scorer{minCount: minCount, maxCount: maxCount, log: logger.New("Selector")}
}

const (
	pathDepthCap      = 5
	samplesPerPath    = 3
	sampleTextMaxLen  = 120
	skippedTags       = "script,style,noscript,meta,link,head"
	interactiveTagSet = "a,button"
)

// PageDigest is the occurrence-counted view of one probed page.
type PageDigest struct {
	doc    *goquery.Document
	counts map[string]int
	nodes  map[string][]*html.Node
	order  []string
}

// Digest parses HTML and counts occurrences of every normalized structural
// path. The path is the tag plus its id or first class, chained toward the
// root with a capped depth.
func (sc *Scorer) Digest(htmlContent string) (*PageDigest, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	d := &PageDigest{
		doc:    doc,
		counts: map[string]int{},
		nodes:  map[string][]*html.Node{},
	}

	doc.Find("*").Not(skippedTags).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil || node.Data == "html" || node.Data == "body" {
			return
		}
		path := nodePath(node)
		if path == "" {
			return
		}
		if _, seen := d.counts[path]; !seen {
			d.order = append(d.order, path)
		}
		d.counts[path]++
		if len(d.nodes[path]) < samplesPerPath {
			d.nodes[path] = append(d.nodes[path], node)
		}
	})
	return d, nil
}

// nodeDescriptor normalizes one element to tag#id, tag.firstClass, or tag.
func nodeDescriptor(n *html.Node) string {
	tag := n.Data
	var id, class string
	for _, a := range n.Attr {
		switch a.Key {
		case "id":
			id = strings.TrimSpace(a.Val)
		case "class":
			fields := strings.Fields(a.Val)
			if len(fields) > 0 {
				class = fields[0]
			}
		}
	}
	if id != "" {
		return tag + "#" + id
	}
	if class != "" {
		return tag + "." + class
	}
	return tag
}

// nodePath chains descriptors from the element toward the root, stopping at
// body and at the depth cap.
func nodePath(n *html.Node) string {
	var parts []string
	cur := n
	for cur != nil && cur.Type == html.ElementNode && len(parts) < pathDepthCap {
		if cur.Data == "body" || cur.Data == "html" {
			break
		}
		parts = append([]string{nodeDescriptor(cur)}, parts...)
		cur = cur.Parent
	}
	return strings.Join(parts, " > ")
}

func sampleText(n *html.Node) string {
	s := goquery.NewDocumentFromNode(n).Selection
	return truncateRunes(strings.Join(strings.Fields(s.Text()), " "), sampleTextMaxLen)
}

// truncateRunes caps s at max bytes without splitting a UTF-8 sequence, so
// samples stay valid when marshaled into prompts.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func firstHref(n *html.Node) string {
	s := goquery.NewDocumentFromNode(n).Selection
	if href, ok := s.Attr("href"); ok {
		return href
	}
	if href, ok := s.Find("a[href]").First().Attr("href"); ok {
		return href
	}
	return ""
}

// ListingCandidates proposes repeated structural paths as listing-item
// selectors. Paths below the minimum are not repeated patterns; paths above
// the maximum are noise.
func (sc *Scorer) ListingCandidates(d *PageDigest) []Candidate {
	var out []Candidate
	for _, path := range d.order {
		count := d.counts[path]
		if count < sc.minCount || count > sc.maxCount {
			continue
		}
		c := Candidate{Selector: path, Count: count, Role: RoleListing, Score: 1}
		for _, n := range d.nodes[path] {
			if c.Sample == "" {
				c.Sample = sampleText(n)
			}
			if c.SampleHref == "" {
				c.SampleHref = firstHref(n)
			}
		}
		if c.Sample != "" {
			c.Score++
		}
		if c.SampleHref != "" {
			c.Score++
		}
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

var excludedHrefPrefixes = []string{"javascript:", "mailto:", "tel:", "#"}

func isNavigableHref(href string) bool {
	href = strings.TrimSpace(strings.ToLower(href))
	if href == "" {
		return false
	}
	for _, p := range excludedHrefPrefixes {
		if strings.HasPrefix(href, p) {
			return false
		}
	}
	return true
}

// DetailLinkCandidates proposes anchors that look like per-item navigation:
// non-empty text and a real href.
func (sc *Scorer) DetailLinkCandidates(d *PageDigest) []Candidate {
	grouped := map[string]*Candidate{}
	var order []string

	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" || !isNavigableHref(href) {
			return
		}
		node := s.Get(0)
		path := nodePath(node)
		if path == "" {
			return
		}
		c, ok := grouped[path]
		if !ok {
			c = &Candidate{Selector: path, Role: RoleDetailLink, Score: 1, Sample: text, SampleHref: href}
			grouped[path] = c
			order = append(order, path)
		}
		c.Count++
	})

	var out []Candidate
	for _, path := range order {
		c := *grouped[path]
		if c.Count >= sc.minCount {
			c.Score++
		}
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

var (
	paginationWords = []string{"next", "more", "load", "older", "show all", "»", "→"}
	pageNumberRe    = regexp.MustCompile(`^\d{1,3}$`)
)

// PaginationCandidates matches literal pagination text intersected with
// interactive element tags.
func (sc *Scorer) PaginationCandidates(d *PageDigest) []Candidate {
	seen := map[string]bool{}
	var out []Candidate

	add := func(s *goquery.Selection, score float64) {
		node := s.Get(0)
		path := nodePath(node)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		href, _ := s.Attr("href")
		out = append(out, Candidate{
			Selector:   path,
			Count:      1,
			Score:      score,
			Sample:     sampleText(node),
			SampleHref: href,
			Role:       RolePagination,
		})
	}

	// rel=next is the strongest signal a page can give.
	d.doc.Find("a[rel='next']").Each(func(_ int, s *goquery.Selection) { add(s, 4) })

	d.doc.Find(interactiveTagSet + ",[role='button']").Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(strings.Join(strings.Fields(s.Text()), " "))
		if text == "" || len(text) > 40 {
			return
		}
		if pageNumberRe.MatchString(text) {
			add(s, 2)
			return
		}
		for _, w := range paginationWords {
			if strings.Contains(text, w) {
				add(s, 3)
				return
			}
		}
	})

	sortCandidates(out)
	return out
}

// sortCandidates orders by score, with occurrence count as the tiebreak.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].Count > cs[j].Count
	})
}

// Best returns the top candidate, or false when there are none.
func Best(cs []Candidate) (Candidate, bool) {
	if len(cs) == 0 {
		return Candidate{}, false
	}
	return cs[0], true
}
