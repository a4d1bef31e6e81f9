package crawler

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/humancrawl/internal/timing"
)

// PageMetrics summarises the readable content of an HTML document.
type PageMetrics struct {
	Title      string  `json:"title,omitempty"`
	WordCount  int     `json:"word_count"`
	ImageCount int     `json:"image_count"`
	LinkCount  int     `json:"link_count"`
	FormCount  int     `json:"form_count"`
	Complexity float64 `json:"complexity"`
}

// Timing converts the metrics into the reading-time input.
func (m PageMetrics) Timing() timing.PageMetrics {
	return timing.PageMetrics{
		WordCount:  m.WordCount,
		ImageCount: m.ImageCount,
		Complexity: m.Complexity,
	}
}

// AnalyzePage parses body as HTML and counts what a reader would take in.
func AnalyzePage(body []byte) (PageMetrics, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageMetrics{}, err
	}
	doc.Find("script, style, noscript, template").Remove()

	words := strings.FieldsFunc(doc.Find("body").Text(), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'' && r != '-')
	})
	letters := 0
	for _, w := range words {
		letters += len([]rune(w))
	}

	m := PageMetrics{
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		WordCount:  len(words),
		ImageCount: doc.Find("img").Length(),
		LinkCount:  doc.Find("a[href]").Length(),
		FormCount:  doc.Find("form").Length(),
	}

	// Long words, tables and code blocks make content denser.
	complexity := 0.0
	if len(words) > 0 {
		avg := float64(letters) / float64(len(words))
		complexity += clamp01((avg - 4) / 4)
	}
	if doc.Find("table").Length() > 0 {
		complexity += 0.2
	}
	if doc.Find("pre, code").Length() > 0 {
		complexity += 0.2
	}
	m.Complexity = clamp01(complexity)
	return m, nil
}

// Extract returns the trimmed text of every node matching each named
// selector.
func Extract(body []byte, selectors map[string]string) (map[string][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(selectors))
	for name, sel := range selectors {
		if sel == "" {
			continue
		}
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				out[name] = append(out[name], text)
			}
		})
	}
	return out, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
