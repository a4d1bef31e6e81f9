// Package detector classifies responses by the bot-protection vendor that
// served them.
package detector

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// System names a bot-protection vendor.
type System string

// Known systems.
const (
	None        System = "none"
	Cloudflare  System = "cloudflare"
	PerimeterX  System = "perimeterx"
	RecaptchaV3 System = "recaptcha_v3"
	DataDome    System = "datadome"
	Akamai      System = "akamai"
)

// Detection is the classification of one response.
type Detection struct {
	System         System  `json:"system"`
	Confidence     float64 `json:"confidence"`
	BypassStrategy string  `json:"bypass_strategy,omitempty"`
}

// Detected reports whether any vendor was recognised.
func (d Detection) Detected() bool {
	return d.System != None && d.System != ""
}

// BypassResult is the outcome of a bypass attempt.
type BypassResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// Response is the part of an HTTP response the rules look at.
type Response struct {
	Headers http.Header
	Body    []byte
}

type rule struct {
	detection Detection
	match     func(Response) bool
}

// Heuristic applies header, cookie and body rules in priority order.
type Heuristic struct {
	rules []rule
}

// NewHeuristic builds the default rule set.
func NewHeuristic() *Heuristic {
	return &Heuristic{rules: []rule{
		{
			detection: Detection{System: Cloudflare, Confidence: 0.95, BypassStrategy: "fingerprint_rotation"},
			match:     hasHeader("Cf-Ray", "Cf-Cache-Status"),
		},
		{
			detection: Detection{System: RecaptchaV3, Confidence: 0.90, BypassStrategy: "solver_service"},
			match:     bodyContains("recaptcha"),
		},
		{
			detection: Detection{System: PerimeterX, Confidence: 0.95, BypassStrategy: "advanced_fingerprinting"},
			match:     hasHeader("X-Px-Uuid"),
		},
		{
			detection: Detection{System: DataDome, Confidence: 0.90, BypassStrategy: "behavioral_mimicry"},
			match: anyOf(
				hasHeader("X-Datadome", "X-Datadome-Cid"),
				hasCookie("datadome"),
				hasElement(`iframe[src*="captcha-delivery.com"]`, `script[src*="captcha-delivery.com"]`),
			),
		},
		{
			detection: Detection{System: Akamai, Confidence: 0.85, BypassStrategy: "sensor_data"},
			match:     hasCookie("_abck", "ak_bmsc", "bm_sz"),
		},
	}}
}

// Classify returns the first matching vendor or None.
func (h *Heuristic) Classify(resp Response) Detection {
	for _, r := range h.rules {
		if r.match(resp) {
			return r.detection
		}
	}
	return Detection{System: None}
}

// Bypass is the extension point for vendor-specific handling. No strategy
// is implemented.
func (h *Heuristic) Bypass(_ context.Context, _ string, _ Detection) BypassResult {
	return BypassResult{Success: false, Reason: "not_implemented"}
}

func hasHeader(names ...string) func(Response) bool {
	return func(resp Response) bool {
		for _, n := range names {
			if _, ok := resp.Headers[http.CanonicalHeaderKey(n)]; ok {
				return true
			}
		}
		return false
	}
}

func hasCookie(names ...string) func(Response) bool {
	return func(resp Response) bool {
		for _, line := range resp.Headers.Values("Set-Cookie") {
			name, _, _ := strings.Cut(line, "=")
			name = strings.ToLower(strings.TrimSpace(name))
			for _, n := range names {
				if name == n {
					return true
				}
			}
		}
		return false
	}
}

func bodyContains(keyword string) func(Response) bool {
	kw := bytes.ToLower([]byte(keyword))
	return func(resp Response) bool {
		if len(resp.Body) == 0 {
			return false
		}
		return bytes.Contains(bytes.ToLower(resp.Body), kw)
	}
}

// hasElement matches HTML bodies containing any of the CSS selectors.
func hasElement(selectors ...string) func(Response) bool {
	return func(resp Response) bool {
		if len(resp.Body) == 0 {
			return false
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return false
		}
		for _, sel := range selectors {
			if doc.Find(sel).Length() > 0 {
				return true
			}
		}
		return false
	}
}

func anyOf(matchers ...func(Response) bool) func(Response) bool {
	return func(resp Response) bool {
		for _, m := range matchers {
			if m(resp) {
				return true
			}
		}
		return false
	}
}
