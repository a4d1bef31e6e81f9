package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/config"
	"github.com/JakeFAU/humancrawl/internal/crawler"
	"github.com/JakeFAU/humancrawl/internal/detector"
	"github.com/JakeFAU/humancrawl/internal/interaction"
	"github.com/JakeFAU/humancrawl/internal/logging"
	"github.com/JakeFAU/humancrawl/internal/telemetry"
)

// Request bounds.
const (
	MaxBatchURLs     = 100
	MaxPageHeight    = 200_000
	MaxTypingRunes   = 2_000
	maxMouseDistance = 20_000
)

const maxRequestBytes = 1 << 20

// Engine is the crawl session the server drives. *crawler.Orchestrator
// satisfies it.
type Engine interface {
	Crawl(ctx context.Context, url string, opts crawler.Options) crawler.Result
	CrawlWithRetry(ctx context.Context, url string, opts crawler.Options) crawler.Result
	CrawlBatch(ctx context.Context, urls []string, opts crawler.BatchOptions) crawler.BatchResult
	DetectBotProtection(ctx context.Context, url string) (detector.Detection, error)
	Metrics() crawler.Metrics
	Session() behavior.SessionSnapshot
	StealthLevel() crawler.StealthLevel
	SetStealthLevel(level crawler.StealthLevel) error
	Reset()
	Interactions() *interaction.Simulator
}

// ResultReader exposes recently recorded results.
type ResultReader interface {
	Recent(n int) []crawler.Result
}

// Server wires HTTP handlers to the crawl engine.
type Server struct {
	router  chi.Router
	engine  Engine
	results ResultReader
	cfg     config.Config
	logger  *zap.Logger

	// sessionMu serialises everything that advances the session; one
	// visitor browses one page at a time.
	sessionMu sync.Mutex
}

// NewServer constructs a Server with middleware and routes. results may be nil.
func NewServer(engine Engine, results ResultReader, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		results: results,
		cfg:     cfg,
		logger:  logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		if cfg.Server.RequestsPerSecond > 0 {
			r.Use(rateLimitMiddleware(cfg.Server.RequestsPerSecond, cfg.Server.Burst))
		}
		r.Post("/crawl", s.crawl)
		r.Post("/crawl/batch", s.crawlBatch)
		r.Post("/detect", s.detect)
		r.Get("/stats", s.stats)
		r.Put("/stealth", s.setStealth)
		r.Post("/reset", s.reset)
		r.Get("/results", s.recentResults)
		r.Route("/interaction", func(r chi.Router) {
			r.Post("/scroll", s.scrollPlan)
			r.Post("/mouse", s.mousePlan)
			r.Post("/typing", s.typingPlan)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	IncludeBody bool              `json:"include_body"`
	// Retry repeats transient failures within the configured attempt budget.
	Retry bool `json:"retry"`
}

type crawlResponse struct {
	crawler.Result
	Body string `json:"body,omitempty"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	opts := crawler.Options{
		Method:  req.Method,
		Headers: toHeader(req.Headers),
	}
	if req.Body != "" {
		opts.Body = []byte(req.Body)
	}

	var result crawler.Result
	s.withSession(func() {
		if req.Retry {
			result = s.engine.CrawlWithRetry(r.Context(), req.URL, opts)
			return
		}
		result = s.engine.Crawl(r.Context(), req.URL, opts)
	})

	logging.FromContext(r.Context(), s.logger).Debug("crawl served",
		zap.String("url", result.URL),
		zap.Bool("success", result.Success),
		zap.Int("status", result.Status),
	)
	writeJSON(w, http.StatusOK, toCrawlResponse(result, req.IncludeBody))
}

type batchRequest struct {
	URLs        []string          `json:"urls"`
	Concurrency int               `json:"concurrency"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	IncludeBody bool              `json:"include_body"`
}

type batchResponse struct {
	Total      int             `json:"total"`
	Completed  int             `json:"completed"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Results    []crawlResponse `json:"results"`
}

func (s *Server) crawlBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > MaxBatchURLs {
		writeError(w, http.StatusBadRequest, "too many urls (max "+strconv.Itoa(MaxBatchURLs)+")")
		return
	}
	opts := crawler.BatchOptions{
		Options:     crawler.Options{Method: req.Method, Headers: toHeader(req.Headers)},
		Concurrency: req.Concurrency,
	}

	var batch crawler.BatchResult
	s.withSession(func() { batch = s.engine.CrawlBatch(r.Context(), req.URLs, opts) })

	resp := batchResponse{
		Total:      batch.Total,
		Completed:  batch.Completed,
		Successful: batch.Successful,
		Failed:     batch.Failed,
		Results:    make([]crawlResponse, 0, len(batch.Results)),
	}
	for _, res := range batch.Results {
		resp.Results = append(resp.Results, toCrawlResponse(res, req.IncludeBody))
	}
	writeJSON(w, http.StatusOK, resp)
}

type detectRequest struct {
	URL string `json:"url"`
}

func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeJSON(w, r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}

	var (
		detection detector.Detection
		err       error
	)
	s.withSession(func() { detection, err = s.engine.DetectBotProtection(r.Context(), req.URL) })

	if err != nil {
		writeError(w, detectStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, detection)
}

func detectStatus(err error) int {
	switch {
	case errors.Is(err, crawler.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, crawler.ErrCanceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

type sessionView struct {
	ID             string  `json:"id"`
	Profile        string  `json:"profile"`
	Started        string  `json:"started"`
	PagesVisited   int     `json:"pages_visited"`
	TargetPages    int     `json:"target_pages"`
	Fatigue        float64 `json:"fatigue"`
	TotalTimeSpent float64 `json:"total_time_spent_seconds"`
}

type statsResponse struct {
	Metrics      crawler.Metrics `json:"metrics"`
	Session      sessionView     `json:"session"`
	StealthLevel string          `json:"stealth_level"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Session()
	writeJSON(w, http.StatusOK, statsResponse{
		Metrics: s.engine.Metrics(),
		Session: sessionView{
			ID:             snap.ID,
			Profile:        string(snap.Profile.Name),
			Started:        snap.Started.Format(time.RFC3339),
			PagesVisited:   snap.PagesVisited,
			TargetPages:    snap.TargetPages,
			Fatigue:        snap.Fatigue,
			TotalTimeSpent: snap.TotalTimeSpent.Seconds(),
		},
		StealthLevel: string(s.engine.StealthLevel()),
	})
}

type stealthRequest struct {
	Level string `json:"level"`
}

func (s *Server) setStealth(w http.ResponseWriter, r *http.Request) {
	var req stealthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var err error
	s.withSession(func() { err = s.engine.SetStealthLevel(crawler.StealthLevel(req.Level)) })
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stealth_level": req.Level})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	var snap behavior.SessionSnapshot
	s.withSession(func() {
		s.engine.Reset()
		snap = s.engine.Session()
	})
	logging.FromContext(r.Context(), s.logger).Info("session reset via API", zap.String("session", snap.ID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": snap.ID})
}

func (s *Server) recentResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "result history disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	results := s.results.Recent(limit)
	out := make([]crawlResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toCrawlResponse(res, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

type scrollRequest struct {
	PageHeight int `json:"page_height"`
}

func (s *Server) scrollPlan(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PageHeight <= 0 || req.PageHeight > MaxPageHeight {
		writeError(w, http.StatusBadRequest, "page_height must be in 1.."+strconv.Itoa(MaxPageHeight))
		return
	}
	var steps []interaction.ScrollStep
	s.withSession(func() { steps = s.engine.Interactions().ScrollPattern(req.PageHeight) })
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": string(s.engine.Session().Profile.Name),
		"steps":   steps,
	})
}

type mouseRequest struct {
	From interaction.Point `json:"from"`
	To   interaction.Point `json:"to"`
}

func (s *Server) mousePlan(w http.ResponseWriter, r *http.Request) {
	var req mouseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if math.Hypot(req.To.X-req.From.X, req.To.Y-req.From.Y) > maxMouseDistance {
		writeError(w, http.StatusBadRequest, "pointer distance too large")
		return
	}
	var path []interaction.MousePoint
	s.withSession(func() { path = s.engine.Interactions().MouseMovement(req.From, req.To) })
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": string(s.engine.Session().Profile.Name),
		"path":    path,
	})
}

type typingRequest struct {
	Text string `json:"text"`
}

func (s *Server) typingPlan(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if n := utf8.RuneCountInString(req.Text); n == 0 || n > MaxTypingRunes {
		writeError(w, http.StatusBadRequest, "text must hold 1.."+strconv.Itoa(MaxTypingRunes)+" characters")
		return
	}
	var (
		keys []interaction.Keystroke
		tier string
	)
	s.withSession(func() {
		sim := s.engine.Interactions()
		keys = sim.TypingPattern(req.Text)
		tier = sim.TypingTier()
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":    string(s.engine.Session().Profile.Name),
		"tier":       tier,
		"keystrokes": keys,
	})
}

func (s *Server) withSession(fn func()) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	fn()
}

func toCrawlResponse(result crawler.Result, includeBody bool) crawlResponse {
	resp := crawlResponse{Result: result}
	if includeBody {
		resp.Body = string(result.Body)
	}
	return resp
}

func toHeader(in map[string]string) http.Header {
	if len(in) == 0 {
		return nil
	}
	h := make(http.Header, len(in))
	for k, v := range in {
		h.Set(k, v)
	}
	return h
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err //nolint:wrapcheck // callers map any decode failure to 400
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
