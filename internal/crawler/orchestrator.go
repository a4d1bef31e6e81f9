package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/clock/system"
	"github.com/JakeFAU/humancrawl/internal/detector"
	"github.com/JakeFAU/humancrawl/internal/hash/sha256"
	"github.com/JakeFAU/humancrawl/internal/interaction"
	"github.com/JakeFAU/humancrawl/internal/learning"
	"github.com/JakeFAU/humancrawl/internal/policy/breaker"
	"github.com/JakeFAU/humancrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/humancrawl/internal/policy/retry"
	"github.com/JakeFAU/humancrawl/internal/stats"
	"github.com/JakeFAU/humancrawl/internal/telemetry"
	"github.com/JakeFAU/humancrawl/internal/timing"
)

// Rewards pushed to the learner after each completed request.
const (
	SuccessReward = 1.0
	FailureReward = -0.5
)

// Dependencies wires an Orchestrator. Only Fetcher is required; every other
// collaborator falls back to a production default.
type Dependencies struct {
	Fetcher  Fetcher
	Breakers *breaker.Registry
	Limiter  *ratelimit.Limiter
	Retry    *retry.Policy
	Detector Detector
	Session  *behavior.Session
	Learner  *learning.Learner
	// Pacer defaults to a timing.Model over Session and Learner.
	Pacer   Pacer
	Sampler *stats.Sampler
	Sink    ResultSink
	Clock   Clock
	Sleep   ratelimit.SleepFunc
	Logger  *zap.Logger
	Tracer  trace.Tracer
	// UserAgent pins the User-Agent instead of drawing one per session.
	UserAgent string
	// KeyByRegistrableDomain groups subdomains under one breaker and limiter
	// slot (shop.example.co.uk and www.example.co.uk share example.co.uk).
	KeyByRegistrableDomain bool
	StealthLevel           StealthLevel
}

// Orchestrator runs one humanlike crawl session. Its methods are meant for a
// single goroutine, but Metrics may be read concurrently.
type Orchestrator struct {
	fetcher   Fetcher
	breakers  *breaker.Registry
	limiter   *ratelimit.Limiter
	retry     *retry.Policy
	detector  Detector
	session   *behavior.Session
	learner   *learning.Learner
	pacer     Pacer
	sampler   *stats.Sampler
	sink      ResultSink
	clock     Clock
	sleep     ratelimit.SleepFunc
	logger    *zap.Logger
	tracer    trace.Tracer
	userAgent string
	byETLD1   bool
	simulator *interaction.Simulator

	mu             sync.Mutex
	metrics        Metrics
	stealth        StealthLevel
	lastRetryAfter time.Duration
	lastStatus     int
	lastErr        error
	headerSession  string
	headers        http.Header
}

// New builds an Orchestrator.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	o := &Orchestrator{
		fetcher:   deps.Fetcher,
		breakers:  deps.Breakers,
		limiter:   deps.Limiter,
		retry:     deps.Retry,
		detector:  deps.Detector,
		session:   deps.Session,
		learner:   deps.Learner,
		pacer:     deps.Pacer,
		sampler:   deps.Sampler,
		sink:      deps.Sink,
		clock:     deps.Clock,
		sleep:     deps.Sleep,
		logger:    deps.Logger,
		tracer:    deps.Tracer,
		userAgent: deps.UserAgent,
		byETLD1:   deps.KeyByRegistrableDomain,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.sleep == nil {
		o.sleep = ratelimit.Sleep
	}
	if o.sampler == nil {
		o.sampler = stats.NewSampler(nil)
	}
	if o.breakers == nil {
		o.breakers = breaker.New(breaker.DefaultConfig(), o.clock, o.logger)
	}
	if o.limiter == nil {
		o.limiter = ratelimit.New(ratelimit.DefaultConfig(), ratelimit.WithClock(o.clock), ratelimit.WithSleep(o.sleep))
	}
	if o.retry == nil {
		o.retry = retry.New(retry.DefaultConfig(), retry.WithSampler(o.sampler))
	}
	if o.detector == nil {
		o.detector = detector.NewHeuristic()
	}
	if o.session == nil {
		o.session = behavior.NewSession(o.sampler, o.clock.Now())
	}
	if o.learner == nil {
		o.learner = learning.NewLearner(learning.DefaultConfig(), o.sampler)
	}
	if o.pacer == nil {
		o.pacer = timing.New(timing.DefaultConfig(), o.session, o.sampler, o.learner, o.clock)
	}
	if o.tracer == nil {
		o.tracer = telemetry.Tracer()
	}
	o.simulator = interaction.New(o.session, o.sampler, o.clock)
	level := deps.StealthLevel
	if level == "" {
		level = StealthHigh
	}
	if err := o.SetStealthLevel(level); err != nil {
		return nil, err
	}
	return o, nil
}

// Crawl fetches one URL through the breaker, the rate limiter and humanlike
// pacing. It never returns an error: failures are described by the Result.
func (o *Orchestrator) Crawl(ctx context.Context, rawURL string, opts Options) Result {
	ctx, span := o.tracer.Start(ctx, "crawler.Crawl", trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	result := o.crawl(ctx, rawURL, opts)
	span.SetAttributes(
		attribute.Bool("crawl.success", result.Success),
		attribute.Int("http.response.status_code", result.Status),
	)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	o.save(ctx, result)
	return result
}

func (o *Orchestrator) crawl(ctx context.Context, rawURL string, opts Options) Result {
	result := Result{URL: rawURL, FetchedAt: o.clock.Now(), SessionID: o.session.Snapshot().ID}
	o.setLastOutcome(0, nil, 0)
	domain, err := o.domainOf(rawURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	logger := o.logger.With(zap.String("url", rawURL), zap.String("domain", domain))

	if o.breakers.IsOpen(domain) {
		logger.Warn("circuit open, request rejected")
		telemetry.ObserveCrawl(rawURL, "circuit_open", 0, 0)
		result.Error = ErrCircuitOpen.Error()
		return result
	}

	if err := o.limiter.Wait(ctx, domain); err != nil {
		return o.canceled(result, err)
	}

	delay := o.pacer.InterRequestDelay(timing.Navigate)
	telemetry.ObserveHumanDelay(string(timing.Navigate), delay)
	if err := o.sleep(ctx, delay); err != nil {
		return o.canceled(result, err)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	start := o.clock.Now()
	resp, err := o.fetcher.Fetch(ctx, FetchRequest{
		URL:     rawURL,
		Method:  method,
		Headers: mergeHeaders(o.sessionHeaders(), opts.Headers),
		Body:    opts.Body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return o.canceled(result, err)
		}
		elapsed := o.clock.Now().Sub(start)
		failure := fmt.Errorf("%w: %w", ErrTransport, err)
		logger.Warn("fetch failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		o.setLastOutcome(0, err, 0)
		o.completeFailure(domain, elapsed, false)
		telemetry.ObserveCrawl(rawURL, "transport_error", 0, elapsed)
		result.Metrics = ResultMetrics{DurationMs: elapsed.Milliseconds()}
		result.Error = failure.Error()
		return result
	}

	result.Status = resp.StatusCode
	result.Headers = resp.Headers
	result.Body = resp.Body
	if resp.URL != "" {
		result.URL = resp.URL
	}
	result.Metrics = ResultMetrics{DurationMs: resp.Duration.Milliseconds(), SizeBytes: len(resp.Body)}
	result.ContentHash = sha256.Hex(resp.Body)
	result.RetryAfter = retry.ParseRetryAfter(resp.Headers.Get("Retry-After"), o.clock.Now())

	detection := o.detector.Classify(detector.Response{Headers: resp.Headers, Body: resp.Body})
	if detection.Detected() {
		result.Protection = &detection
		telemetry.ObserveDetection(string(detection.System))
		logger.Info("bot protection detected",
			zap.String("system", string(detection.System)),
			zap.Float64("confidence", detection.Confidence),
		)
	}

	o.setLastOutcome(resp.StatusCode, nil, result.RetryAfter)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure := fmt.Errorf("%w: %d", ErrNonSuccessStatus, resp.StatusCode)
		logger.Warn("non-success status", zap.Int("status", resp.StatusCode))
		o.completeFailure(domain, resp.Duration, detection.Detected())
		telemetry.ObserveCrawl(rawURL, "http_error", len(resp.Body), resp.Duration)
		result.Error = failure.Error()
		return result
	}

	if isHTML(resp.Headers.Get("Content-Type")) && len(resp.Body) > 0 {
		if page, err := AnalyzePage(resp.Body); err == nil {
			result.Page = &page
		} else {
			logger.Debug("page analysis failed", zap.Error(err))
		}
	}

	o.completeSuccess(domain, resp.Duration, detection.Detected())
	telemetry.ObserveCrawl(rawURL, "success", len(resp.Body), resp.Duration)
	logger.Debug("crawl succeeded", zap.Int("status", resp.StatusCode), zap.Duration("duration", resp.Duration))
	result.Success = true
	return result
}

// CrawlBatch walks urls in order as one session, stopping early when the
// simulated visitor would leave.
func (o *Orchestrator) CrawlBatch(ctx context.Context, urls []string, opts BatchOptions) BatchResult {
	ctx, span := o.tracer.Start(ctx, "crawler.CrawlBatch", trace.WithAttributes(attribute.Int("batch.size", len(urls))))
	defer span.End()

	batch := BatchResult{Total: len(urls), Results: make([]Result, 0, len(urls))}
	if opts.Concurrency > 1 {
		o.logger.Info("batch concurrency ignored, session crawls sequentially", zap.Int("concurrency", opts.Concurrency))
	}
	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && !o.pacer.ShouldContinueBrowsing() {
			o.logger.Info("session ended early", zap.Int("completed", batch.Completed), zap.Int("total", batch.Total))
			break
		}
		r := o.Crawl(ctx, u, opts.Options)
		batch.Results = append(batch.Results, r)
		batch.Completed++
		if r.Success {
			batch.Successful++
		} else {
			batch.Failed++
		}
		if r.Success && i < len(urls)-1 {
			var pm timing.PageMetrics
			if r.Page != nil {
				pm = r.Page.Timing()
			}
			dwell := o.pacer.ReadingTime(pm)
			telemetry.ObserveHumanDelay("read", dwell)
			if err := o.sleep(ctx, dwell); err != nil {
				break
			}
		}
	}
	span.SetAttributes(attribute.Int("batch.completed", batch.Completed))
	return batch
}

// DetectBotProtection fetches url once, honouring the breaker and the rate
// limiter but skipping humanlike pacing, and classifies the response.
func (o *Orchestrator) DetectBotProtection(ctx context.Context, rawURL string) (detector.Detection, error) {
	domain, err := o.domainOf(rawURL)
	if err != nil {
		return detector.Detection{}, err
	}
	if o.breakers.IsOpen(domain) {
		return detector.Detection{}, ErrCircuitOpen
	}
	if err := o.limiter.Wait(ctx, domain); err != nil {
		return detector.Detection{}, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	resp, err := o.fetcher.Fetch(ctx, FetchRequest{URL: rawURL, Method: http.MethodGet, Headers: o.sessionHeaders()})
	if err != nil {
		return detector.Detection{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	d := o.detector.Classify(detector.Response{Headers: resp.Headers, Body: resp.Body})
	if d.Detected() {
		telemetry.ObserveDetection(string(d.System))
	}
	return d, nil
}

// Bypass forwards to the detector's bypass extension point.
func (o *Orchestrator) Bypass(ctx context.Context, rawURL string, d detector.Detection) detector.BypassResult {
	return o.detector.Bypass(ctx, rawURL, d)
}

// HandleFailure advises whether the last Crawl, which was attempt
// (1-based), is worth retrying and how long to wait first. Only transient
// failures within the attempt budget qualify; a Retry-After from the last
// response takes precedence over the computed backoff.
func (o *Orchestrator) HandleFailure(attempt int) (time.Duration, bool) {
	o.mu.Lock()
	retryAfter, status, lastErr := o.lastRetryAfter, o.lastStatus, o.lastErr
	o.mu.Unlock()

	var ok bool
	switch {
	case lastErr != nil:
		ok = o.retry.ShouldRetry(lastErr, attempt)
	case status != 0:
		ok = o.retry.ShouldRetryStatus(status, attempt)
	}
	if !ok {
		return 0, false
	}
	return o.retry.BackoffWithRetryAfter(attempt, retryAfter), true
}

// CrawlWithRetry crawls rawURL and repeats the attempt while HandleFailure
// allows it, sleeping the advised backoff in between.
func (o *Orchestrator) CrawlWithRetry(ctx context.Context, rawURL string, opts Options) Result {
	for attempt := 1; ; attempt++ {
		result := o.Crawl(ctx, rawURL, opts)
		result.Attempts = attempt
		if result.Success {
			return result
		}
		wait, ok := o.HandleFailure(attempt)
		if !ok {
			return result
		}
		o.logger.Info("retrying crawl",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
		if err := o.sleep(ctx, wait); err != nil {
			return result
		}
	}
}

// Interactions returns the simulator planning pointer, scroll and typing
// behaviour for the live session persona.
func (o *Orchestrator) Interactions() *interaction.Simulator {
	return o.simulator
}

// Metrics returns the running counters with derived rates.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.metrics
	if m.Requests > 0 {
		m.SuccessRate = float64(m.Successful) / float64(m.Requests)
		m.DetectionRate = float64(m.Detected) / float64(m.Requests)
	}
	return m
}

// Session returns a snapshot of the browsing session.
func (o *Orchestrator) Session() behavior.SessionSnapshot {
	return o.session.Snapshot()
}

// StealthLevel returns the active level.
func (o *Orchestrator) StealthLevel() StealthLevel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stealth
}

// SetStealthLevel changes how strongly pacing is stretched.
func (o *Orchestrator) SetStealthLevel(level StealthLevel) error {
	scale, ok := level.Scale()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStealthLevel, level)
	}
	if s, ok := o.pacer.(interface{ SetScale(float64) }); ok {
		s.SetScale(scale)
	}
	o.mu.Lock()
	o.stealth = level
	o.mu.Unlock()
	o.logger.Info("stealth level set", zap.String("level", string(level)), zap.Float64("scale", scale))
	return nil
}

// Reset clears breaker and limiter state, zeroes the metrics and starts a
// new session with a fresh persona.
func (o *Orchestrator) Reset() {
	o.breakers.Reset()
	o.limiter.Reset()
	if r, ok := o.pacer.(interface{ ResetSession() }); ok {
		r.ResetSession()
	} else {
		o.session.Reset(o.clock.Now())
	}
	o.mu.Lock()
	o.metrics = Metrics{}
	o.lastRetryAfter = 0
	o.lastStatus = 0
	o.lastErr = nil
	o.headerSession = ""
	o.headers = nil
	o.mu.Unlock()
	o.logger.Info("orchestrator reset", zap.String("session", o.session.Snapshot().ID))
}

func (o *Orchestrator) completeSuccess(domain string, d time.Duration, detected bool) {
	o.breakers.RecordSuccess(domain)
	o.session.RecordPage(d)
	o.recordMetrics(true, d, detected)
	o.reward(SuccessReward)
}

func (o *Orchestrator) completeFailure(domain string, d time.Duration, detected bool) {
	o.breakers.RecordFailure(domain)
	o.recordMetrics(false, d, detected)
	o.reward(FailureReward)
}

func (o *Orchestrator) recordMetrics(success bool, d time.Duration, detected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.Requests++
	if success {
		o.metrics.Successful++
	} else {
		o.metrics.Failed++
	}
	if detected {
		o.metrics.Detected++
	}
	ms := float64(d) / float64(time.Millisecond)
	o.metrics.AvgResponseTimeMs += (ms - o.metrics.AvgResponseTimeMs) / float64(o.metrics.Requests)
}

// reward credits the learner decision behind the last pre-request delay.
func (o *Orchestrator) reward(r float64) {
	state, action := o.lastDecision()
	o.learner.Learn(state, action, r, o.stateKey())
}

func (o *Orchestrator) lastDecision() (learning.StateKey, learning.Action) {
	if src, ok := o.pacer.(interface{ LastDecision() timing.Decision }); ok {
		if d := src.LastDecision(); d.State != "" {
			return d.State, d.Action
		}
	}
	state := o.stateKey()
	return state, o.learner.SelectAction(state)
}

func (o *Orchestrator) stateKey() learning.StateKey {
	snap := o.session.Snapshot()
	return learning.State{
		Profile:      snap.Profile.Name,
		Fatigue:      snap.Fatigue,
		Hour:         o.clock.Now().Hour(),
		PagesVisited: snap.PagesVisited,
	}.Key()
}

// setLastOutcome remembers what HandleFailure needs about the latest attempt.
func (o *Orchestrator) setLastOutcome(status int, err error, retryAfter time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastStatus = status
	o.lastErr = err
	o.lastRetryAfter = retryAfter
}

// sessionHeaders draws the browser headers once per session.
func (o *Orchestrator) sessionHeaders() http.Header {
	snap := o.session.Snapshot()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.headers == nil || o.headerSession != snap.ID {
		o.headers = ProfileHeaders(snap.Profile, o.sampler, o.userAgent)
		o.headerSession = snap.ID
	}
	return o.headers.Clone()
}

func (o *Orchestrator) canceled(result Result, err error) Result {
	o.logger.Debug("crawl canceled", zap.String("url", result.URL), zap.Error(err))
	telemetry.ObserveCrawl(result.URL, "canceled", 0, 0)
	result.Error = ErrCanceled.Error()
	return result
}

func (o *Orchestrator) save(ctx context.Context, result Result) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Save(context.WithoutCancel(ctx), result); err != nil {
		o.logger.Warn("result sink failed", zap.String("url", result.URL), zap.Error(err))
	}
}

func (o *Orchestrator) domainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	host := strings.ToLower(u.Hostname())
	if o.byETLD1 {
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			return etld1, nil
		}
	}
	return host, nil
}
