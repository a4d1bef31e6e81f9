package collyfetcher

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodingTransport advertises gzip, deflate and br and decodes the response
// body before colly reads it.
type decodingTransport struct {
	base http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", AcceptEncoding)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("decoding transport roundtrip: %w", err)
	}
	if err := decodeResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// decodeResponse wraps resp.Body with decoders for every Content-Encoding,
// last applied first.
func decodeResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	var encodings []string
	for _, v := range resp.Header.Values("Content-Encoding") {
		for _, e := range strings.Split(v, ",") {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" && e != "identity" {
				encodings = append(encodings, e)
			}
		}
	}
	if len(encodings) == 0 {
		return nil
	}

	original := resp.Body
	var reader io.Reader = original
	closers := []io.Closer{original}
	for i := len(encodings) - 1; i >= 0; i-- {
		switch encodings[i] {
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(reader)
			if err != nil {
				return fmt.Errorf("gzip decode: %w", err)
			}
			closers = append(closers, zr)
			reader = zr
		case "deflate":
			fr, err := newDeflateReader(reader)
			if err != nil {
				return fmt.Errorf("deflate decode: %w", err)
			}
			closers = append(closers, fr)
			reader = fr
		case "br":
			reader = brotli.NewReader(reader)
		default:
			return fmt.Errorf("unsupported content encoding %q", encodings[i])
		}
	}

	resp.Body = &decodedBody{Reader: reader, closers: closers}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams.
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(header) == 2 && header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr, nil
	}
	return flate.NewReader(br), nil
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
