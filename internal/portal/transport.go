package portal

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

// DefaultUserAgent is sent when neither the caller nor configuration supplies one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// UserAgents picks the user-agent string presented to the portal.
type UserAgents struct {
	System string
}

// Get returns hint when set (the end user's browser), else the system agent.
func (u UserAgents) Get(hint string) string {
	if hint != "" {
		return hint
	}
	if u.System != "" {
		return u.System
	}
	return DefaultUserAgent
}

// NewCookieJar returns an empty jar suitable for a portal session.
func NewCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// loggingTransport stamps the user agent on every request and logs the exchange.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("Portal request failed.", "method", req.Method, "url", req.URL.String(), "elapsed", time.Since(start), "error", err)
		return nil, err
	}
	t.logger.Debug("Portal response.", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}

// newScopedClient builds an HTTP client for a single portal interaction. It is
// never shared between calls.
func newScopedClient(jar http.CookieJar, base http.RoundTripper, userAgent string, timeout time.Duration, maxRedirects int) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&loggingTransport{
			base:      base,
			userAgent: userAgent,
			logger:    slog.Default(),
		}),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}
