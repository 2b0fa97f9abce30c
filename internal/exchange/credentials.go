package exchange

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// StaticSource resolves credential handles from an in-memory map, loaded from
// configuration at startup. Certificates may be given as file paths or inline
// base64; paths win when both are set.
type StaticSource struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{creds: make(map[string]Credentials)}
}

var _ CredentialSource = (*StaticSource)(nil)

// Add registers credentials under a handle. Exactly one of certPath/certB64
// (and likewise for the key) should be set; both empty disables certificate
// login for this handle.
func (s *StaticSource) Add(ref, appKey, username, password, certPath, keyPath, certB64, keyB64 string) error {
	c := Credentials{AppKey: appKey, Username: username, Password: password}

	var err error
	if c.CertPEM, err = loadPEM(certPath, certB64); err != nil {
		return fmt.Errorf("exchange: credentials %s: cert: %w", ref, err)
	}
	if c.KeyPEM, err = loadPEM(keyPath, keyB64); err != nil {
		return fmt.Errorf("exchange: credentials %s: key: %w", ref, err)
	}

	s.mu.Lock()
	s.creds[ref] = c
	s.mu.Unlock()
	return nil
}

// Resolve returns the credentials for a handle or domain.ErrNotFound.
func (s *StaticSource) Resolve(_ context.Context, ref string) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[ref]
	if !ok {
		return Credentials{}, fmt.Errorf("exchange: credential handle %q: %w", ref, domain.ErrNotFound)
	}
	return c, nil
}

func loadPEM(path, b64 string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return data, nil
	}
	if b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		return data, nil
	}
	return nil, nil
}
