package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/humancrawl/internal/detector"
	"github.com/JakeFAU/humancrawl/internal/timing"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Detector classifies responses by bot-protection vendor.
type Detector interface {
	Classify(resp detector.Response) detector.Detection
	Bypass(ctx context.Context, url string, d detector.Detection) detector.BypassResult
}

// Pacer decides humanlike pauses and when a session ends.
type Pacer interface {
	InterRequestDelay(action timing.Action) time.Duration
	ReadingTime(pm timing.PageMetrics) time.Duration
	ShouldContinueBrowsing() bool
}

// ResultSink receives every crawl result. Errors are logged, never
// propagated to the caller.
type ResultSink interface {
	Save(ctx context.Context, result Result) error
}

// Renderer executes page JavaScript. Only a stub exists.
type Renderer interface {
	Render(ctx context.Context, url string) (FetchResponse, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
