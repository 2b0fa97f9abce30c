package exchange

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// Credentials is one tenant's venue identity. The certificate pair is
// required by the venue's non-interactive login endpoint.
type Credentials struct {
	AppKey   string
	Username string
	Password string
	CertPEM  []byte
	KeyPEM   []byte
}

// CredentialSource resolves the opaque credential handle carried by a tenant
// into concrete venue credentials. Implementations own decryption and storage.
type CredentialSource interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// sessionTTL is how long a session token is reused before a fresh login.
// The venue expires idle sessions server-side well after this.
const sessionTTL = 4 * time.Hour

type session struct {
	token     string
	expiresAt time.Time
}

// sessionManager caches one venue session per credential handle. Sessions are
// shared across a tenant's accounts within a cycle and across cycles until
// they age out or the venue reports INVALID_SESSION_INFORMATION.
type sessionManager struct {
	identityURL  string
	keepAliveURL string
	creds        CredentialSource

	mu       sync.Mutex
	sessions map[string]session
}

func newSessionManager(identityURL, keepAliveURL string, creds CredentialSource) *sessionManager {
	return &sessionManager{
		identityURL:  identityURL,
		keepAliveURL: keepAliveURL,
		creds:        creds,
		sessions:     make(map[string]session),
	}
}

// get returns a valid session token for the credential handle, logging in if
// the cached one is missing or stale.
func (m *sessionManager) get(ctx context.Context, credentialRef string) (string, Credentials, error) {
	creds, err := m.creds.Resolve(ctx, credentialRef)
	if err != nil {
		return "", Credentials{}, fmt.Errorf("exchange: resolve credentials %s: %w", credentialRef, err)
	}

	m.mu.Lock()
	s, ok := m.sessions[credentialRef]
	m.mu.Unlock()
	if ok && time.Now().Before(s.expiresAt) {
		return s.token, creds, nil
	}

	token, err := m.login(ctx, creds)
	if err != nil {
		return "", Credentials{}, err
	}

	m.mu.Lock()
	m.sessions[credentialRef] = session{token: token, expiresAt: time.Now().Add(sessionTTL)}
	m.mu.Unlock()
	return token, creds, nil
}

// invalidate drops the cached session so the next call logs in again.
func (m *sessionManager) invalidate(credentialRef string) {
	m.mu.Lock()
	delete(m.sessions, credentialRef)
	m.mu.Unlock()
}

// login performs the venue's certificate login and returns a session token.
func (m *sessionManager) login(ctx context.Context, creds Credentials) (string, error) {
	if creds.AppKey == "" || creds.Username == "" || creds.Password == "" {
		return "", fmt.Errorf("exchange: incomplete credentials: %w", domain.ErrExchangeUnavailable)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if len(creds.CertPEM) > 0 && len(creds.KeyPEM) > 0 {
		cert, err := tls.X509KeyPair(creds.CertPEM, creds.KeyPEM)
		if err != nil {
			return "", fmt.Errorf("exchange: load client certificate: %w", err)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		}
	}

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.identityURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("exchange: build login request: %w", err)
	}
	req.Header.Set("X-Application", creds.AppKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange: login: %w: %v", domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("exchange: read login response: %w", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", fmt.Errorf("exchange: decode login response: %w", err)
	}
	if lr.LoginStatus != "SUCCESS" || lr.SessionToken == "" {
		return "", fmt.Errorf("exchange: login refused (%s): %w", lr.LoginStatus, domain.ErrExchangeUnavailable)
	}
	return lr.SessionToken, nil
}

// KeepAlive extends the session for one credential handle. Called from the
// background session loop; a failed keep-alive just drops the cached session.
func (m *sessionManager) KeepAlive(ctx context.Context, credentialRef string) error {
	m.mu.Lock()
	s, ok := m.sessions[credentialRef]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	creds, err := m.creds.Resolve(ctx, credentialRef)
	if err != nil {
		return fmt.Errorf("exchange: resolve credentials %s: %w", credentialRef, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.keepAliveURL, nil)
	if err != nil {
		return fmt.Errorf("exchange: build keep-alive request: %w", err)
	}
	req.Header.Set("X-Application", creds.AppKey)
	req.Header.Set("X-Authentication", s.token)
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		m.invalidate(credentialRef)
		return fmt.Errorf("exchange: keep-alive: %w: %v", domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	var ka keepAliveResponse
	if err := json.NewDecoder(resp.Body).Decode(&ka); err != nil {
		m.invalidate(credentialRef)
		return fmt.Errorf("exchange: decode keep-alive response: %w", err)
	}
	if ka.Status != "SUCCESS" {
		m.invalidate(credentialRef)
		return fmt.Errorf("exchange: keep-alive refused (%s): %w", ka.Error, domain.ErrExchangeUnavailable)
	}
	return nil
}
