// Package venue holds the HTTP plumbing shared by the snapshot and order
// clients of the trading venue.
package venue

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	PositionsPath = "/api/v1/positions"
	AccountPath   = "/api/v1/account"
	TradePath     = "/api/v1/trade"
	StreamPath    = "/ws"

	DefaultUserAgent = "tradedash/1.0"
)

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// NewHTTPClient builds a client that stamps every request with agent.
func NewHTTPClient(timeout time.Duration, agent string) *http.Client {
	if agent == "" {
		agent = DefaultUserAgent
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &http.Client{
		Transport: userAgentTransport{agent: agent, base: transport},
		Timeout:   timeout,
	}
}

// Endpoint joins the venue base URL and an API path.
func Endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// StreamURL derives the push channel URL from the HTTP base by swapping the
// scheme: http becomes ws and https becomes wss.
func StreamURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + StreamPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
