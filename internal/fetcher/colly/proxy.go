package collyfetcher

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ProxyPool hands out the proxy for the next outbound request.
type ProxyPool interface {
	Next() (*url.URL, error)
}

// ErrNoProxies is returned by an empty pool.
var ErrNoProxies = errors.New("proxy pool is empty")

// RoundRobinPool cycles through a static proxy list.
type RoundRobinPool struct {
	mu      sync.Mutex
	proxies []*url.URL
	next    int
}

// NewRoundRobinPool parses rawURLs. Blank entries are skipped.
func NewRoundRobinPool(rawURLs []string) (*RoundRobinPool, error) {
	pool := &RoundRobinPool{}
	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy %q must include scheme and host", raw)
		}
		pool.proxies = append(pool.proxies, u)
	}
	return pool, nil
}

// Len returns the number of proxies.
func (p *RoundRobinPool) Len() int {
	return len(p.proxies)
}

// Next returns the next proxy in rotation.
func (p *RoundRobinPool) Next() (*url.URL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return nil, ErrNoProxies
	}
	u := p.proxies[p.next%len(p.proxies)]
	p.next = (p.next + 1) % len(p.proxies)
	return u, nil
}
