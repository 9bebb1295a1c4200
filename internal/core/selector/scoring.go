package selector

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var socialProfileDomains = []string{
	"linkedin.com", "twitter.com", "x.com", "facebook.com",
	"instagram.com", "github.com", "youtube.com",
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// shapeMatches reports whether a sampled value looks like the field's
// declared semantic type.
func shapeMatches(value, fieldType string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	switch strings.ToLower(fieldType) {
	case "url", "link", "website":
		return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
	case "date", "year":
		return yearRe.MatchString(value)
	case "email":
		return strings.Contains(value, "@") && strings.Contains(value, ".")
	case "number", "price":
		return strings.IndexFunc(value, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
	case "name", "title", "text", "string":
		return len(value) >= 2 && len(value) <= 120
	default:
		return len(value) > 0
	}
}

var bareTags = map[string]bool{"div": true, "span": true, "a": true, "p": true, "li": true}

// ScoreFieldCandidate applies the field scoring function: base 1, +2 when the
// selector contains the field's name, +2 when the sampled value's shape
// matches the declared type, +1 for id- or data-attribute addressing, -1 for
// a maximally generic single-tag selector.
func ScoreFieldCandidate(c Candidate, field FieldSpec) float64 {
	score := 1.0

	if strings.Contains(normalizeName(c.Selector), normalizeName(field.Name)) {
		score += 2
	}

	value := c.Sample
	if strings.Contains(strings.ToLower(field.Type), "url") || strings.Contains(strings.ToLower(field.Type), "link") {
		value = c.SampleHref
	}
	if shapeMatches(value, field.Type) {
		score += 2
	}

	if strings.Contains(c.Selector, "#") || strings.Contains(c.Selector, "[data-") {
		score++
	}
	if bareTags[c.Selector] {
		score--
	}
	return score
}

// FieldCandidates proposes addressing expressions for one output field by
// combining generic type-based patterns with exact and partial name matches
// in class, id, and data attributes.
func (sc *Scorer) FieldCandidates(d *PageDigest, field FieldSpec) []Candidate {
	seen := map[string]bool{}
	var out []Candidate

	add := func(sel string, s *goquery.Selection) {
		if sel == "" || seen[sel] {
			return
		}
		// A zero match count means the expression is invalid as a CSS
		// selector (utility classes like "md:name-wrap") or addresses
		// nothing; such a candidate must never reach the site spec.
		if s.Length() == 0 {
			return
		}
		seen[sel] = true
		text := truncateRunes(strings.Join(strings.Fields(s.First().Text()), " "), sampleTextMaxLen)
		href, _ := s.First().Attr("href")
		c := Candidate{
			Selector:   sel,
			Count:      s.Length(),
			Sample:     text,
			SampleHref: href,
			Role:       RoleField,
			Field:      field.Name,
		}
		c.Score = ScoreFieldCandidate(c, field)
		out = append(out, c)
	}

	wanted := normalizeName(field.Name)

	// Name matches in class/id/data attributes.
	d.doc.Find("[class],[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && strings.Contains(normalizeName(id), wanted) {
			add("#"+id, s)
		}
		if class, ok := s.Attr("class"); ok {
			for _, cl := range strings.Fields(class) {
				if strings.Contains(normalizeName(cl), wanted) {
					add("."+cl, d.doc.Find("."+cl))
				}
			}
		}
	})
	d.doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil {
			return
		}
		for _, attr := range node.Attr {
			if strings.HasPrefix(attr.Key, "data-") && strings.Contains(normalizeName(attr.Key), wanted) {
				add("["+attr.Key+"]", d.doc.Find("["+attr.Key+"]"))
			}
		}
	})

	// Type-based generic patterns.
	switch strings.ToLower(field.Type) {
	case "url", "link", "website":
		d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			for _, domain := range socialProfileDomains {
				if strings.Contains(href, domain) {
					add(`a[href*='`+domain+`']`, s)
					break
				}
			}
		})
		add("a", d.doc.Find("a[href]"))
	case "name", "title", "string", "text":
		for _, h := range []string{"h1", "h2", "h3", "h4"} {
			if sel := d.doc.Find(h); sel.Length() > 0 {
				add(h, sel)
			}
		}
		if sel := d.doc.Find("[itemprop='name']"); sel.Length() > 0 {
			add("[itemprop='name']", sel)
		}
	case "date", "year":
		if sel := d.doc.Find("time"); sel.Length() > 0 {
			add("time", sel)
		}
		if sel := d.doc.Find("[datetime]"); sel.Length() > 0 {
			add("[datetime]", sel)
		}
	case "email":
		if sel := d.doc.Find("a[href^='mailto:']"); sel.Length() > 0 {
			add("a[href^='mailto:']", sel)
		}
	case "image":
		if sel := d.doc.Find("img[src]"); sel.Length() > 0 {
			add("img", sel)
		}
	}

	sortCandidates(out)
	return out
}

// RankAcrossPages merges per-page candidate lists for one field. A candidate
// is ranked first by the number of pages on which it produced a non-empty
// value, then by its average per-page score: consistency across pages
// outranks a single strong match.
func RankAcrossPages(perPage [][]Candidate) []Candidate {
	type agg struct {
		c        Candidate
		pages    int
		scoreSum float64
		seen     int
	}
	merged := map[string]*agg{}
	var order []string

	for _, page := range perPage {
		for _, c := range page {
			a, ok := merged[c.Selector]
			if !ok {
				a = &agg{c: c}
				merged[c.Selector] = a
				order = append(order, c.Selector)
			}
			a.seen++
			a.scoreSum += c.Score
			if strings.TrimSpace(c.Sample) != "" || strings.TrimSpace(c.SampleHref) != "" {
				a.pages++
			}
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, sel := range order {
		a := merged[sel]
		c := a.c
		c.Pages = a.pages
		c.Score = a.scoreSum / float64(a.seen)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pages != out[j].Pages {
			return out[i].Pages > out[j].Pages
		}
		return out[i].Score > out[j].Score
	})
	return out
}
