// Package portal talks to the court records portal: it logs users in and
// searches for a case number's portal identifier.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lllllllleong/caselookupflow/internal/alert"
)

const maxPageBytes = 8 << 20

// SearchConfig holds the portal endpoints and client limits.
type SearchConfig struct {
	BaseURL       string
	SearchPath    string
	ResultsPath   string
	CriteriaField string
	TroubleMarker string
	LinkClass     string
	CaseIDAttr    string
	// LoginPath is where the portal sends requests whose session has ended.
	LoginPath    string
	Timeout      time.Duration
	MaxRedirects int
	MaxPageBytes int64
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

func (c *SearchConfig) defaults() {
	if c.SearchPath == "" {
		c.SearchPath = "/Portal/SmartSearch/SmartSearch/SmartSearch"
	}
	if c.ResultsPath == "" {
		c.ResultsPath = "/Portal/SmartSearch/SmartSearchResults"
	}
	if c.CriteriaField == "" {
		c.CriteriaField = "caseCriteria.SearchCriteria"
	}
	if c.TroubleMarker == "" {
		c.TroubleMarker = "Smart Search is having trouble processing your search"
	}
	if c.LinkClass == "" {
		c.LinkClass = "caseLink"
	}
	if c.CaseIDAttr == "" {
		c.CaseIDAttr = "data-caseid"
	}
	if c.LoginPath == "" {
		c.LoginPath = "/Portal/Account/Login"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.MaxPageBytes <= 0 {
		c.MaxPageBytes = maxPageBytes
	}
}

// SearchError classifies a failed search. IsSystemError is false only when
// the portal answered normally and listed no matching case.
type SearchError struct {
	IsSystemError bool
	// SessionExpired is set when the portal answered with its login form.
	SessionExpired bool
	Severity       alert.Severity
	StatusCode     int
	Message        string
	// ArchivedPage is the gs:// URI of the offending page, when archived.
	ArchivedPage string
	Err          error
}

func (e *SearchError) Error() string { return e.Message }

func (e *SearchError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is the well-formed "no results" outcome.
func IsNotFound(err error) bool {
	var se *SearchError
	return errors.As(err, &se) && !se.IsSystemError
}

// IsSessionExpired reports whether err means the portal no longer accepts
// the session's cookies.
func IsSessionExpired(err error) bool {
	var se *SearchError
	return errors.As(err, &se) && se.SessionExpired
}

// PageArchiver stores result pages that could not be classified cleanly.
type PageArchiver interface {
	ArchivePage(ctx context.Context, caseNumber, reason string, body []byte) (string, error)
}

// SearchClient performs the two-step portal search. It holds configuration
// only; every call builds and discards its own HTTP client.
type SearchClient struct {
	cfg      SearchConfig
	archiver PageArchiver
	tracer   trace.Tracer
}

// NewSearchClient returns a client for cfg. archiver may be nil.
func NewSearchClient(cfg SearchConfig, archiver PageArchiver, tracer trace.Tracer) *SearchClient {
	cfg.defaults()
	if tracer == nil {
		tracer = otel.Tracer("github.com/Lllllllleong/caselookupflow/internal/portal")
	}
	return &SearchClient{cfg: cfg, archiver: archiver, tracer: tracer}
}

// Search returns the portal case identifier for caseNumber. Failures are
// always *SearchError.
func (c *SearchClient) Search(ctx context.Context, caseNumber string, session *Session, userAgent string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "portal.Search", trace.WithAttributes(attribute.String("case.number", caseNumber)))
	defer span.End()

	caseID, err := c.search(ctx, caseNumber, session, userAgent)
	if err != nil {
		span.RecordError(err)
		if !IsNotFound(err) {
			span.SetStatus(otelcodes.Error, err.Error())
		}
		return "", err
	}
	span.SetAttributes(attribute.String("case.id", caseID))
	return caseID, nil
}

func (c *SearchClient) search(ctx context.Context, caseNumber string, session *Session, userAgent string) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", &SearchError{
			IsSystemError: true,
			Severity:      alert.SeverityCritical,
			Message:       "portal base URL is not configured",
		}
	}
	if session == nil || session.Jar == nil {
		return "", systemError(0, "no authenticated portal session", nil)
	}
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	client := newScopedClient(session.Jar, c.cfg.Transport, userAgent, c.cfg.Timeout, c.cfg.MaxRedirects)
	logCtx := slog.With("caseNumber", caseNumber, "userId", session.UserID)

	form := url.Values{}
	form.Set(c.cfg.CriteriaField, caseNumber)
	res, err := fetch(ctx, client, http.MethodPost, base+c.cfg.SearchPath, strings.NewReader(form.Encode()), c.cfg.MaxPageBytes)
	if err != nil {
		return "", systemError(res.status, fmt.Sprintf("search submission failed: %v", err), err)
	}
	if c.onLoginPage(res) {
		return "", sessionExpired(res.status)
	}
	if res.status != http.StatusOK {
		return "", systemError(res.status, fmt.Sprintf("search submission returned status %d", res.status), nil)
	}

	res, err = fetch(ctx, client, http.MethodGet, base+c.cfg.ResultsPath, nil, c.cfg.MaxPageBytes)
	if err != nil {
		return "", systemError(res.status, fmt.Sprintf("results fetch failed: %v", err), err)
	}
	if c.onLoginPage(res) {
		return "", sessionExpired(res.status)
	}
	status, body := res.status, res.body
	if status != http.StatusOK {
		return "", systemError(status, fmt.Sprintf("results page returned status %d", status), nil)
	}

	if strings.Contains(string(body), c.cfg.TroubleMarker) {
		se := systemError(status, "portal reported it is having trouble processing the search", nil)
		se.ArchivedPage = c.archive(ctx, caseNumber, "trouble-marker", body)
		return "", se
	}

	links, err := findCaseLinks(body, c.cfg.LinkClass, c.cfg.CaseIDAttr)
	if err != nil {
		return "", systemError(status, err.Error(), err)
	}
	if len(links) == 0 {
		logCtx.Info("Portal search returned no results.")
		return "", &SearchError{IsSystemError: false, StatusCode: status, Message: fmt.Sprintf("case %s not found", caseNumber)}
	}
	if len(links) > 1 {
		logCtx.Info("Portal search returned several results; using the first.", "results", len(links))
	}
	if !links[0].HasID {
		se := systemError(status, fmt.Sprintf("result link is missing the %s attribute", c.cfg.CaseIDAttr), nil)
		se.ArchivedPage = c.archive(ctx, caseNumber, "missing-case-id", body)
		return "", se
	}
	return links[0].ID, nil
}

func (c *SearchClient) archive(ctx context.Context, caseNumber, reason string, body []byte) string {
	if c.archiver == nil {
		return ""
	}
	uri, err := c.archiver.ArchivePage(ctx, caseNumber, reason, body)
	if err != nil {
		slog.Warn("Failed to archive portal page.", "caseNumber", caseNumber, "reason", reason, "error", err)
		return ""
	}
	return uri
}

// onLoginPage reports whether the portal redirected to, or rendered, its
// sign-in form instead of the requested page.
func (c *SearchClient) onLoginPage(res response) bool {
	if res.url != nil && strings.EqualFold(strings.TrimRight(res.url.Path, "/"), strings.TrimRight(c.cfg.LoginPath, "/")) {
		return true
	}
	return isLoginForm(res.body)
}

func sessionExpired(status int) *SearchError {
	return &SearchError{
		IsSystemError:  true,
		SessionExpired: true,
		Severity:       alert.SeverityError,
		StatusCode:     status,
		Message:        "portal session expired: the portal returned its login page",
	}
}

func systemError(status int, msg string, err error) *SearchError {
	if status >= http.StatusInternalServerError {
		msg = "portal server error: " + msg
	}
	return &SearchError{
		IsSystemError: true,
		Severity:      alert.SeverityError,
		StatusCode:    status,
		Message:       msg,
		Err:           err,
	}
}
