package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/config"
	"github.com/JakeFAU/humancrawl/internal/crawler"
	"github.com/JakeFAU/humancrawl/internal/detector"
	"github.com/JakeFAU/humancrawl/internal/interaction"
	"github.com/JakeFAU/humancrawl/internal/stats"
)

type fakeEngine struct {
	mu        sync.Mutex
	crawled   []string
	opts      []crawler.Options
	batch     crawler.BatchOptions
	detectErr error
	stealth   crawler.StealthLevel
	resets    int
	panicOn   string
	retried   []string

	simOnce sync.Once
	sim     *interaction.Simulator
}

func (f *fakeEngine) CrawlWithRetry(ctx context.Context, url string, opts crawler.Options) crawler.Result {
	f.mu.Lock()
	f.retried = append(f.retried, url)
	f.mu.Unlock()
	res := f.Crawl(ctx, url, opts)
	res.Attempts = 2
	return res
}

func (f *fakeEngine) Interactions() *interaction.Simulator {
	f.simOnce.Do(func() {
		sampler := stats.NewSampler(stats.NewSeededSource(5, 6))
		session := behavior.NewSession(sampler, time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC))
		f.sim = interaction.New(session, sampler, nil)
	})
	return f.sim
}

func (f *fakeEngine) Crawl(_ context.Context, url string, opts crawler.Options) crawler.Result {
	if url == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crawled = append(f.crawled, url)
	f.opts = append(f.opts, opts)
	return crawler.Result{
		Success:   true,
		URL:       url,
		Status:    http.StatusOK,
		Body:      []byte("<html>ok</html>"),
		SessionID: "s-1",
	}
}

func (f *fakeEngine) CrawlBatch(ctx context.Context, urls []string, opts crawler.BatchOptions) crawler.BatchResult {
	f.mu.Lock()
	f.batch = opts
	f.mu.Unlock()
	out := crawler.BatchResult{Total: len(urls)}
	for _, u := range urls {
		r := f.Crawl(ctx, u, opts.Options)
		out.Results = append(out.Results, r)
		out.Completed++
		out.Successful++
	}
	return out
}

func (f *fakeEngine) DetectBotProtection(_ context.Context, _ string) (detector.Detection, error) {
	if f.detectErr != nil {
		return detector.Detection{}, f.detectErr
	}
	return detector.Detection{System: detector.Cloudflare, Confidence: 0.95, BypassStrategy: "browser_automation"}, nil
}

func (f *fakeEngine) Metrics() crawler.Metrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return crawler.Metrics{Requests: int64(len(f.crawled)), Successful: int64(len(f.crawled)), SuccessRate: 1}
}

func (f *fakeEngine) Session() behavior.SessionSnapshot {
	return behavior.SessionSnapshot{
		ID:          fmt.Sprintf("session-%d", f.resets),
		Profile:     casualBrowser(),
		Started:     time.Unix(0, 0).UTC(),
		TargetPages: 7,
	}
}

func casualBrowser() behavior.Profile {
	p, _ := behavior.Lookup(behavior.CasualBrowser)
	return p
}

func (f *fakeEngine) StealthLevel() crawler.StealthLevel { return f.stealth }

func (f *fakeEngine) SetStealthLevel(level crawler.StealthLevel) error {
	if _, ok := level.Scale(); !ok {
		return fmt.Errorf("%w: %q", crawler.ErrUnknownStealthLevel, level)
	}
	f.stealth = level
	return nil
}

func (f *fakeEngine) Reset() { f.resets++ }

type fakeResults struct{ results []crawler.Result }

func (f fakeResults) Recent(n int) []crawler.Result {
	if n > len(f.results) {
		n = len(f.results)
	}
	return f.results[:n]
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestsPerSecond: 1000, Burst: 1000, RequestTimeout: time.Minute},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	require.Equal(t, http.StatusOK, do(t, server.Handler(), http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, server.Handler(), http.MethodGet, "/readyz", "").Code)

	notReady := NewServer(nil, nil, testConfig(), nil)
	require.Equal(t, http.StatusServiceUnavailable, do(t, notReady.Handler(), http.MethodGet, "/readyz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCrawlReturnsResult(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	server := NewServer(engine, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/crawl",
		`{"url":"https://example.com","method":"GET","headers":{"accept-language":"fr-FR"},"include_body":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, true, got["success"])
	require.Equal(t, "https://example.com", got["url"])
	require.Equal(t, "<html>ok</html>", got["body"])
	require.Equal(t, []string{"https://example.com"}, engine.crawled)
	require.Equal(t, "fr-FR", engine.opts[0].Headers.Get("Accept-Language"))
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	require.NoError(t, err)
}

func TestCrawlOmitsBodyByDefault(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/crawl", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "<html>")
}

func TestCrawlRejectsBadInput(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/crawl", "{invalid").Code)
	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/crawl", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/crawl", `{"url":"x","bogus":1}`).Code)
}

func TestCrawlBatch(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	server := NewServer(engine, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/crawl/batch",
		`{"urls":["https://a.test","https://b.test"],"concurrency":3}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 2, got.Total)
	require.Equal(t, 2, got.Successful)
	require.Len(t, got.Results, 2)
	require.Equal(t, 3, engine.batch.Concurrency)
}

func TestCrawlBatchLimits(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/crawl/batch", `{"urls":[]}`).Code)

	urls := make([]string, MaxBatchURLs+1)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://%d.test", i)
	}
	body, err := json.Marshal(map[string]any{"urls": urls})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/crawl/batch", string(body)).Code)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/detect", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got detector.Detection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, detector.Cloudflare, got.System)
}

func TestDetectErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %q", crawler.ErrInvalidURL, "nope"), http.StatusBadRequest},
		{crawler.ErrCircuitOpen, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", crawler.ErrCanceled, context.Canceled), http.StatusRequestTimeout},
		{fmt.Errorf("%w: dial", crawler.ErrTransport), http.StatusBadGateway},
	}
	for _, tt := range tests {
		server := NewServer(&fakeEngine{detectErr: tt.err}, nil, testConfig(), zap.NewNop())
		rec := do(t, server.Handler(), http.MethodPost, "/v1/detect", `{"url":"https://example.com"}`)
		require.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestStatsStealthAndReset(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{stealth: crawler.StealthHigh}
	server := NewServer(engine, nil, testConfig(), zap.NewNop())
	h := server.Handler()

	do(t, h, http.MethodPost, "/v1/crawl", `{"url":"https://example.com"}`)

	rec := do(t, h, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(1), stats.Metrics.Requests)
	require.Equal(t, "casual_browser", stats.Session.Profile)
	require.Equal(t, "high", stats.StealthLevel)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/v1/stealth", `{"level":"paranoid"}`).Code)
	require.Equal(t, crawler.StealthParanoid, engine.stealth)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/v1/stealth", `{"level":"ninja"}`).Code)

	rec = do(t, h, http.MethodPost, "/v1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "session-1")
	require.Equal(t, 1, engine.resets)
}

func TestRecentResults(t *testing.T) {
	t.Parallel()

	disabled := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	require.Equal(t, http.StatusNotFound, do(t, disabled.Handler(), http.MethodGet, "/v1/results", "").Code)

	store := fakeResults{results: []crawler.Result{{URL: "https://b.test", Body: []byte("secret")}, {URL: "https://a.test"}}}
	server := NewServer(&fakeEngine{}, store, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodGet, "/v1/results?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://b.test")
	require.NotContains(t, rec.Body.String(), "https://a.test")
	require.NotContains(t, rec.Body.String(), "secret")

	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodGet, "/v1/results?limit=0", "").Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(&fakeEngine{}, nil, cfg, zap.NewNop())

	require.Equal(t, http.StatusForbidden, do(t, server.Handler(), http.MethodGet, "/v1/stats", "").Code)
	require.Equal(t, http.StatusOK, do(t, server.Handler(), http.MethodGet, "/v1/stats?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, do(t, server.Handler(), http.MethodGet, "/healthz", "").Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.RequestsPerSecond = 0.001
	cfg.Server.Burst = 1
	server := NewServer(&fakeEngine{}, nil, cfg, zap.NewNop())

	require.Equal(t, http.StatusOK, do(t, server.Handler(), http.MethodGet, "/v1/stats", "").Code)
	rec := do(t, server.Handler(), http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{panicOn: "https://boom.test"}, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/crawl", `{"url":"https://boom.test"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

func TestCrawlWithRetryFlag(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	server := NewServer(engine, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/crawl", `{"url":"https://retry.test","retry":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.EqualValues(t, 2, got["attempts"])
	require.Equal(t, []string{"https://retry.test"}, engine.retried)
}

func TestInteractionScrollPlan(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/interaction/scroll", `{"page_height":3000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Profile string                   `json:"profile"`
		Steps   []interaction.ScrollStep `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, string(behavior.CasualBrowser), got.Profile)
	require.NotEmpty(t, got.Steps)
	require.Equal(t, 3000, got.Steps[len(got.Steps)-1].Position)

	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/interaction/scroll", `{"page_height":0}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/interaction/scroll", `{"page_height":999999999}`).Code)
}

func TestInteractionMousePlan(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/interaction/mouse", `{"from":{"x":10,"y":20},"to":{"x":610,"y":420}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Path []interaction.MousePoint `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.GreaterOrEqual(t, len(got.Path), 2)
	last := got.Path[len(got.Path)-1]
	require.InDelta(t, 610, last.X, 1e-9)
	require.InDelta(t, 420, last.Y, 1e-9)
	require.Positive(t, last.At)

	require.Equal(t, http.StatusBadRequest,
		do(t, server.Handler(), http.MethodPost, "/v1/interaction/mouse", `{"from":{"x":0,"y":0},"to":{"x":1e9,"y":0}}`).Code)
}

func TestInteractionTypingPlan(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeEngine{}, nil, testConfig(), zap.NewNop())
	rec := do(t, server.Handler(), http.MethodPost, "/v1/interaction/typing", `{"text":"humanlike"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Tier       string                  `json:"tier"`
		Keystrokes []interaction.Keystroke `json:"keystrokes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got.Tier)
	require.GreaterOrEqual(t, len(got.Keystrokes), len("humanlike"))

	require.Equal(t, http.StatusBadRequest, do(t, server.Handler(), http.MethodPost, "/v1/interaction/typing", `{"text":""}`).Code)
}
