// Package gcs archives fetched response bodies in Google Cloud Storage. Objects
// are keyed by the body's SHA-256 so a page that did not change between crawls
// is stored once.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/humancrawl/internal/crawler"
)

// DefaultPrefix is prepended to every object name.
const DefaultPrefix = "bodies/"

// Config selects the destination bucket.
type Config struct {
	Bucket string
	Prefix string
}

// Archive is a crawler.ResultSink that uploads response bodies.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
	logger *zap.Logger
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Archive{client: client, bucket: cfg.Bucket, prefix: prefix, logger: logger}
}

// Open creates a client using Application Default Credentials and checks the
// bucket is reachable so a bad configuration fails at startup.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs archive: bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil && logger != nil {
			logger.Warn("close gcs client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	a := New(client, cfg, logger)
	a.owned = true
	return a, nil
}

// ObjectName returns the object a body with the given hash is stored under.
func (a *Archive) ObjectName(hash string) string {
	if len(hash) < 2 {
		return a.prefix + hash
	}
	return a.prefix + hash[:2] + "/" + hash
}

// Save uploads result.Body. Results without a body are skipped, and a body
// that is already archived is not written again.
func (a *Archive) Save(ctx context.Context, result crawler.Result) error {
	if len(result.Body) == 0 || result.ContentHash == "" {
		return nil
	}
	name := a.ObjectName(result.ContentHash)
	obj := a.client.Bucket(a.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	wc := obj.NewWriter(ctx)
	wc.ContentType = contentType(result.Headers)
	wc.Metadata = map[string]string{
		"source_url": result.URL,
		"session_id": result.SessionID,
		"status":     strconv.Itoa(result.Status),
	}

	if _, err := wc.Write(result.Body); err != nil {
		if cerr := wc.Close(); cerr != nil {
			a.logger.Warn("close gcs writer after write failure", zap.String("object", name), zap.Error(cerr))
		}
		return fmt.Errorf("write gcs object %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		if alreadyExists(err) {
			a.logger.Debug("body already archived", zap.String("object", name))
			return nil
		}
		return fmt.Errorf("close gcs writer for object %s: %w", name, err)
	}
	return nil
}

// Close releases the client when the archive opened it.
func (a *Archive) Close() error {
	if !a.owned {
		return nil
	}
	return a.client.Close()
}

func contentType(h http.Header) string {
	ct := h.Get("Content-Type")
	if ct == "" {
		return "application/octet-stream"
	}
	return strings.TrimSpace(ct)
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
