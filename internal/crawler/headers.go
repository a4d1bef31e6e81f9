package crawler

import (
	"net/http"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/stats"
)

var desktopAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

var mobileAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-S911B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Mobile Safari/537.36",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-US,en;q=0.8,es;q=0.6",
	"en-CA,en;q=0.9,fr-CA;q=0.7",
}

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// ProfileHeaders builds a browser-like header set for the persona. A
// non-empty userAgent replaces the drawn one.
func ProfileHeaders(profile behavior.Profile, sampler *stats.Sampler, userAgent string) http.Header {
	agents := desktopAgents
	mobile := "?0"
	if profile.Mobile {
		agents = mobileAgents
		mobile = "?1"
	}
	if userAgent == "" {
		userAgent = agents[sampler.Intn(len(agents))]
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", acceptHTML)
	h.Set("Accept-Language", acceptLanguages[sampler.Intn(len(acceptLanguages))])
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Sec-Ch-Ua-Mobile", mobile)
	return h
}

// mergeHeaders overlays override onto base. Both may be nil.
func mergeHeaders(base, override http.Header) http.Header {
	out := base.Clone()
	if out == nil {
		out = http.Header{}
	}
	for k, v := range override {
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return out
}
