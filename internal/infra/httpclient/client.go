package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/cosplaymagic/server/internal/shared/config"
)

// UserAgent is sent on every outbound request.
const UserAgent = "cosplaymagic-server/1.0"

// DefaultResponseTimeout bounds a single generation API call when the
// config leaves it unset. Image synthesis routinely takes tens of seconds.
const DefaultResponseTimeout = 120 * time.Second

// New creates the pooled HTTP client used for generation API calls.
func New(cfg config.HTTPClientConfig) *http.Client {
	timeout := cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: &userAgentTransport{next: transport},
		Timeout:   timeout,
	}
}

type userAgentTransport struct {
	next http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	// RoundTrippers must not mutate the caller's request.
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", UserAgent)
	return t.next.RoundTrip(clone)
}
