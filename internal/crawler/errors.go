package crawler

import "errors"

// Error kinds surfaced in Result.Error.
var (
	// ErrCircuitOpen rejects a request without network I/O.
	ErrCircuitOpen = errors.New("circuit_breaker_open")
	// ErrTransport wraps network and TLS failures from the fetcher.
	ErrTransport = errors.New("transport error")
	// ErrNonSuccessStatus marks a response outside 2xx.
	ErrNonSuccessStatus = errors.New("non-success status")
	// ErrCanceled is reported when the caller's context ends mid-crawl.
	ErrCanceled = errors.New("canceled")
	// ErrInvalidURL rejects URLs without a scheme and host.
	ErrInvalidURL = errors.New("invalid url")
	// ErrUnknownStealthLevel rejects an unrecognised level.
	ErrUnknownStealthLevel = errors.New("unknown stealth level")
	// ErrRenderingUnsupported is returned by the default renderer.
	ErrRenderingUnsupported = errors.New("javascript rendering is not supported")
)
