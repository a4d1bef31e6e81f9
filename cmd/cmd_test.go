package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/humancrawl/internal/app"
	"github.com/JakeFAU/humancrawl/internal/config"
	"github.com/JakeFAU/humancrawl/internal/crawler"
	"github.com/JakeFAU/humancrawl/internal/detector"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusForbidden,
		Headers:    http.Header{"Cf-Ray": {"8a1b"}, "Server": {"cloudflare"}},
		Body:       []byte("<html>Attention Required!</html>"),
	}, nil
}

func withStubApp(t *testing.T) {
	t.Helper()
	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (*app.App, error) {
		cfg.Stealth.Level = string(crawler.StealthLow)
		return app.New(ctx, cfg, zap.NewNop(), app.WithFetcher(stubFetcher{}))
	}
	t.Cleanup(func() { newApp = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandPrintsResult(t *testing.T) {
	withStubApp(t)

	out, err := run(t, "crawl", "--stealth", "low", "-H", "Accept-Language: de-DE", "https://example.com/")
	require.NoError(t, err)

	var got crawler.Result
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.False(t, got.Success)
	require.Equal(t, http.StatusForbidden, got.Status)
	require.NotNil(t, got.Protection)
	require.Equal(t, detector.Cloudflare, got.Protection.System)
}

func TestCrawlCommandRejectsBadInput(t *testing.T) {
	withStubApp(t)

	_, err := run(t, "crawl", "-H", "no-colon", "https://example.com/")
	require.ErrorContains(t, err, "invalid header")

	_, err = run(t, "crawl", "--stealth", "ninja", "https://example.com/")
	require.ErrorIs(t, err, crawler.ErrUnknownStealthLevel)

	_, err = run(t, "crawl")
	require.Error(t, err)
}

func TestDetectCommand(t *testing.T) {
	withStubApp(t)

	out, err := run(t, "detect", "https://example.com/")
	require.NoError(t, err)
	var got detector.Detection
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, detector.Cloudflare, got.System)

	_, err = run(t, "detect", "ftp://example.com/")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestRootRejectsMissingConfig(t *testing.T) {
	withStubApp(t)

	_, err := run(t, "--config", "/does/not/exist.yaml", "detect", "https://example.com/")
	require.ErrorContains(t, err, "load config")
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	h, err := parseHeaders([]string{"X-One: 1", "x-one: 2", "Referer:https://a.test"})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, h.Values("X-One"))
	require.Equal(t, "https://a.test", h.Get("Referer"))

	h, err = parseHeaders(nil)
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestCrawlCommandRetryStopsOnBlockPage(t *testing.T) {
	withStubApp(t)

	out, err := run(t, "crawl", "--retry", "https://example.com/")
	require.NoError(t, err)

	var got crawler.Result
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.False(t, got.Success)
	require.Equal(t, 1, got.Attempts)
}
