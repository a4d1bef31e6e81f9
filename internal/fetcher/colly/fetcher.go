// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/humancrawl/internal/crawler"
)

// AcceptEncoding advertises every encoding the fetcher can decode.
const AcceptEncoding = "gzip, deflate, br"

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxRedirects  int
	// DisableRedirects returns the first 3xx response as is.
	DisableRedirects bool
	MaxBodyBytes     int
	// InsecureSkipVerify is only meant for tests against self-signed servers.
	InsecureSkipVerify bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxRedirects: 5,
		MaxBodyBytes: 10 * 1024 * 1024,
	}
}

// ErrTooManyRedirects is returned once a redirect chain exceeds the limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customises a Fetcher.
type Option func(*options)

type options struct {
	proxies   ProxyPool
	transport http.RoundTripper
	logger    *zap.Logger
	tracing   bool
	tracer    trace.TracerProvider
}

// WithProxyPool routes every request through the next proxy of pool.
func WithProxyPool(pool ProxyPool) Option {
	return func(o *options) { o.proxies = pool }
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTracing wraps the transport with an OpenTelemetry client span per
// request. A nil provider uses the global one.
func WithTracing(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracing = true
		o.tracer = tp
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = newHTTPTransport(o.proxies, cfg.InsecureSkipVerify)
	}
	if o.tracing {
		var otelOpts []otelhttp.Option
		if o.tracer != nil {
			otelOpts = append(otelOpts, otelhttp.WithTracerProvider(o.tracer))
		}
		o.transport = otelhttp.NewTransport(o.transport, otelOpts...)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(&decodingTransport{base: o.transport})
	c.SetCookieJar(jar)
	c.SetRequestTimeout(cfg.Timeout)
	maxRedirects, follow := cfg.MaxRedirects, !cfg.DisableRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if !follow {
			return http.ErrUseLastResponse
		}
		if len(via) > maxRedirects {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
		}
		return nil
	})

	return &Fetcher{
		cfg:           cfg,
		logger:        o.logger,
		baseCollector: c,
	}, nil
}

// Fetch executes a single HTTP request using Colly. Non-2xx responses are
// returned without error; only transport failures produce one.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = crawler.FetchResponse{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, request crawler.FetchRequest, fetchErr *error) error {
	method := strings.ToUpper(request.Method)
	if method == "" {
		method = http.MethodGet
	}
	done := make(chan error, 1)
	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	go func() {
		done <- collector.Request(method, request.URL, body, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("colly fetch canceled: %w", ctxErr)
			}
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil || r.Headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport(pool ProxyPool, insecure bool) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if pool != nil {
		t.Proxy = func(*http.Request) (*url.URL, error) {
			return pool.Next()
		}
	}
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test servers
	}
	return t
}
