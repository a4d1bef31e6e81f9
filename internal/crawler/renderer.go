package crawler

import "context"

// NoopRenderer reports that rendering is unavailable.
type NoopRenderer struct{}

// Render always fails with ErrRenderingUnsupported.
func (NoopRenderer) Render(context.Context, string) (FetchResponse, error) {
	return FetchResponse{}, ErrRenderingUnsupported
}
