package crawler

import (
	"net/http"
	"time"

	"github.com/JakeFAU/humancrawl/internal/detector"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Options tune a single crawl.
type Options struct {
	Method string `json:"method,omitempty"`
	// Headers override the profile-derived request headers.
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`
}

// BatchOptions tune a batch crawl.
type BatchOptions struct {
	Options
	// Concurrency is accepted for API compatibility; a session always walks
	// its URLs one after another.
	Concurrency int `json:"concurrency,omitempty"`
}

// ResultMetrics describes the cost of one fetch.
type ResultMetrics struct {
	DurationMs int64 `json:"duration_ms"`
	SizeBytes  int   `json:"size_bytes"`
}

// Result is the outcome of one crawl. Failures are reported here, never as
// a returned error.
type Result struct {
	Success    bool                `json:"success"`
	URL        string              `json:"url"`
	Status     int                 `json:"status,omitempty"`
	Headers    http.Header         `json:"headers,omitempty"`
	Body       []byte              `json:"-"`
	Error      string              `json:"error,omitempty"`
	Protection *detector.Detection `json:"protection,omitempty"`
	Page       *PageMetrics        `json:"page,omitempty"`
	Metrics    ResultMetrics       `json:"metrics"`
	// ContentHash is the hex SHA-256 of Body.
	ContentHash string    `json:"content_sha256,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	// RetryAfter is the server supplied Retry-After, if any.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Attempts counts fetch attempts when the crawl was retried.
	Attempts int `json:"attempts,omitempty"`
}

// BatchResult aggregates a batch crawl.
type BatchResult struct {
	Total      int      `json:"total"`
	Completed  int      `json:"completed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Metrics are the running counters of an orchestrator.
type Metrics struct {
	Requests   int64 `json:"requests"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Detected   int64 `json:"detected"`
	// AvgResponseTimeMs is the running mean over completed requests.
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	SuccessRate       float64 `json:"success_rate"`
	DetectionRate     float64 `json:"detection_rate"`
}

// StealthLevel trades crawl speed for more conservative pacing.
type StealthLevel string

// Stealth levels.
const (
	StealthLow      StealthLevel = "low"
	StealthMedium   StealthLevel = "medium"
	StealthHigh     StealthLevel = "high"
	StealthParanoid StealthLevel = "paranoid"
)

var stealthScales = map[StealthLevel]float64{
	StealthLow:      0.25,
	StealthMedium:   0.5,
	StealthHigh:     1.0,
	StealthParanoid: 2.0,
}

// Scale returns the pacing multiplier for the level.
func (l StealthLevel) Scale() (float64, bool) {
	s, ok := stealthScales[l]
	return s, ok
}
