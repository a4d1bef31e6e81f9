// Package sink fans crawl results out to the configured destinations.
package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/humancrawl/internal/crawler"
)

// Multi forwards each result to every sink and joins their errors.
type Multi []crawler.ResultSink

// Save implements crawler.ResultSink.
func (m Multi) Save(ctx context.Context, result crawler.Result) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
