package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

// InvalidCredentialsMessage is what the portal shows for a bad login.
const InvalidCredentialsMessage = "Invalid Email or password"

var invalidCredentialsRe = regexp.MustCompile(`(?i)invalid\s+(e-?mail|user\s*name)\s+or\s+password`)

// IsInvalidCredentials reports whether a session failure message describes
// bad user credentials (user-correctable) rather than an environment problem.
func IsInvalidCredentials(msg string) bool {
	return invalidCredentialsRe.MatchString(msg)
}

// Session is an authenticated cookie jar for one portal user. It is only
// valid for the invocation that obtained it.
type Session struct {
	UserID    string
	Jar       http.CookieJar
	CreatedAt time.Time
}

// SessionError is a failed session acquisition; Message is safe to persist.
type SessionError struct {
	Message string
	Err     error
}

func (e *SessionError) Error() string { return e.Message }

func (e *SessionError) Unwrap() error { return e.Err }

// CredentialSource looks up a user's portal login.
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (models.PortalCredentials, error)
}

// LoginConfig configures LoginSessionProvider.
type LoginConfig struct {
	BaseURL      string
	LoginPath    string
	TokenField   string
	Timeout      time.Duration
	MaxRedirects int
	SessionTTL   time.Duration
	Transport    http.RoundTripper
}

func (c *LoginConfig) defaults() {
	if c.LoginPath == "" {
		c.LoginPath = "/Portal/Account/Login"
	}
	if c.TokenField == "" {
		c.TokenField = "__RequestVerificationToken"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 20 * time.Minute
	}
}

type cachedSession struct {
	session *Session
	expires time.Time
}

// LoginSessionProvider logs users into the portal and caches their sessions
// in-process for SessionTTL.
type LoginSessionProvider struct {
	cfg   LoginConfig
	creds CredentialSource
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSession
}

// NewLoginSessionProvider returns a provider logging in with creds.
func NewLoginSessionProvider(cfg LoginConfig, creds CredentialSource) *LoginSessionProvider {
	cfg.defaults()
	return &LoginSessionProvider{
		cfg:   cfg,
		creds: creds,
		now:   time.Now,
		cache: make(map[string]cachedSession),
	}
}

// GetOrCreateSession returns a cached session for userID or logs in afresh.
// Failures are *SessionError.
func (p *LoginSessionProvider) GetOrCreateSession(ctx context.Context, userID, userAgent string) (*Session, error) {
	if s := p.cached(userID); s != nil {
		return s, nil
	}
	s, err := p.login(ctx, userID, userAgent)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.cache[userID] = cachedSession{session: s, expires: s.CreatedAt.Add(p.cfg.SessionTTL)}
	p.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached session for userID. Callers use it when the
// portal has ended a session before its TTL ran out.
func (p *LoginSessionProvider) Invalidate(userID string) {
	p.mu.Lock()
	delete(p.cache, userID)
	p.mu.Unlock()
}

func (p *LoginSessionProvider) cached(userID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cache[userID]
	if !ok {
		return nil
	}
	if !p.now().Before(c.expires) {
		delete(p.cache, userID)
		return nil
	}
	return c.session
}

func (p *LoginSessionProvider) login(ctx context.Context, userID, userAgent string) (*Session, error) {
	if p.cfg.BaseURL == "" {
		return nil, &SessionError{Message: "portal base URL is not configured"}
	}
	creds, err := p.creds.Credentials(ctx, userID)
	if err != nil {
		return nil, &SessionError{Message: fmt.Sprintf("failed to load portal credentials: %v", err), Err: err}
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, &SessionError{Message: "no portal credentials configured for user"}
	}

	jar, err := NewCookieJar()
	if err != nil {
		return nil, &SessionError{Message: err.Error(), Err: err}
	}
	client := newScopedClient(jar, p.cfg.Transport, userAgent, p.cfg.Timeout, p.cfg.MaxRedirects)
	loginURL := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.LoginPath
	logCtx := slog.With("userId", userID)

	page, err := fetch(ctx, client, http.MethodGet, loginURL, nil, maxPageBytes)
	if err != nil {
		return nil, &SessionError{Message: fmt.Sprintf("failed to load login page: %v", err), Err: err}
	}
	if page.status != http.StatusOK {
		return nil, &SessionError{Message: fmt.Sprintf("login page returned status %d", page.status)}
	}

	form := url.Values{}
	form.Set("UserName", creds.Username)
	form.Set("Password", creds.Password)
	if token, ok := findInputValue(page.body, p.cfg.TokenField); ok {
		form.Set(p.cfg.TokenField, token)
	}

	res, err := fetch(ctx, client, http.MethodPost, loginURL, strings.NewReader(form.Encode()), maxPageBytes)
	if err != nil {
		return nil, &SessionError{Message: fmt.Sprintf("login request failed: %v", err), Err: err}
	}
	if strings.Contains(string(res.body), InvalidCredentialsMessage) {
		logCtx.Warn("Portal rejected user credentials.")
		return nil, &SessionError{Message: InvalidCredentialsMessage}
	}
	if res.status != http.StatusOK {
		return nil, &SessionError{Message: fmt.Sprintf("login returned status %d", res.status)}
	}
	if isLoginForm(res.body) {
		return nil, &SessionError{Message: "login did not complete: portal returned the login form again"}
	}

	logCtx.Info("Portal session established.")
	return &Session{UserID: userID, Jar: jar, CreatedAt: p.now()}, nil
}

// response is a fully read portal reply. URL is the final URL after redirects.
type response struct {
	status int
	body   []byte
	url    *url.URL
}

// fetch sends one request and reads the whole body, refusing bodies larger
// than limit. Any response is returned for inspection; only transport
// failures and oversized pages are errors.
func fetch(ctx context.Context, client *http.Client, method, target string, body io.Reader, limit int64) (response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return response{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, url: resp.Request.URL}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return out, errors.Join(errors.New("failed to read response body"), err)
	}
	if int64(len(data)) > limit {
		return out, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	out.body = data
	return out, nil
}
