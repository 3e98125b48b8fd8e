package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// AuthError reports a rejected credential exchange, or a request that stayed
// unauthorized after a fresh token was obtained.
type AuthError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e AuthError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s auth failed %d: %s", e.Provider, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s auth failed %d", e.Provider, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s auth failed: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s auth failed", e.Provider)
	}
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// Manager obtains and caches a client-credentials access token.
type Manager struct {
	decl       Declaration
	config     clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewManager(decl Declaration, clientID, clientSecret string) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(clientSecret) == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	return &Manager{
		decl: decl,
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     decl.TokenURL,
			Scopes:       decl.scopes(),
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}, nil
}

// Token returns the cached access token, refreshing it when it is missing or
// expired. Concurrent callers share a single in-flight exchange.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if token, ok := m.cached(); ok {
		return token, nil
	}

	result, err, _ := m.group.Do("token", func() (any, error) {
		if token, ok := m.cached(); ok {
			return token, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached token so the next Token call exchanges again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.accessToken = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
}

func (m *Manager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && m.now().Before(m.expiresAt) {
		return m.accessToken, true
	}
	return "", false
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	// Shared by every waiting caller; must not inherit one caller's cancellation.
	ctx = context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, m.httpClient)
	token, err := m.config.Token(ctx)
	if err != nil {
		m.Invalidate()
		exchangeFailure.WithLabelValues(m.decl.Provider).Inc()
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return "", AuthError{
				Provider: m.decl.Provider,
				Status:   status,
				Body:     strings.TrimSpace(string(retrieveErr.Body)),
			}
		}
		return "", AuthError{Provider: m.decl.Provider, Err: err}
	}

	now := m.now()
	expiresAt := now
	if !token.Expiry.IsZero() {
		lifetime := time.Until(token.Expiry)
		if candidate := now.Add(lifetime - m.decl.margin()); candidate.After(now) {
			expiresAt = candidate
		}
	}

	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = expiresAt
	m.mu.Unlock()

	exchangeSuccess.WithLabelValues(m.decl.Provider).Inc()
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	tokenExpiry.WithLabelValues(m.decl.Provider).Set(float64(expiresAt.Unix()))
	return token.AccessToken, nil
}
