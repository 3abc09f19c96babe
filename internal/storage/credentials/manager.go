// Package credentials resolves the secrets the service hands to the worker
// and to the repository push step. Values are never logged.
package credentials

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mystorage/mystorage/internal/common/logger"
)

// Well-known credential keys.
const (
	KeyGitHubToken = "GITHUB_TOKEN"
	KeyGitHubUser  = "GITHUB_USER"
	KeyGitHubEmail = "GITHUB_EMAIL"
)

// Credential represents a stored credential.
type Credential struct {
	Key    string // Environment variable name (e.g. GITHUB_TOKEN)
	Value  string // The secret value (never logged)
	Source string // Where it came from (environment, file)
}

// Provider resolves credentials from one secret source.
type Provider interface {
	// GetCredential retrieves a credential by key
	GetCredential(ctx context.Context, key string) (*Credential, error)

	// ListAvailable returns the available credential keys
	ListAvailable(ctx context.Context) ([]string, error)

	// Name returns the provider name
	Name() string
}

// Manager resolves credentials across an ordered list of providers, first
// match wins. Resolved values are cached for the process lifetime.
type Manager struct {
	providers []Provider
	cache     map[string]*Credential
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewManager creates a new credentials manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		providers: make([]Provider, 0),
		cache:     make(map[string]*Credential),
		logger:    log.WithFields(zap.String("component", "credentials-manager")),
	}
}

// AddProvider appends a provider. Providers are consulted in the order added.
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers = append(m.providers, provider)
	m.logger.Info("added credential provider", zap.String("provider", provider.Name()))
}

// GetValue retrieves just the value of a credential.
func (m *Manager) GetValue(ctx context.Context, key string) (string, error) {
	cred, err := m.GetCredential(ctx, key)
	if err != nil {
		return "", err
	}
	return cred.Value, nil
}

// GetCredential resolves a credential through the provider chain.
func (m *Manager) GetCredential(ctx context.Context, key string) (*Credential, error) {
	m.mu.RLock()
	if cred, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return cred, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, provider := range m.providers {
		cred, err := provider.GetCredential(ctx, key)
		if err == nil {
			m.cache[key] = cred
			m.logger.Debug("credential resolved",
				zap.String("key", key),
				zap.String("source", cred.Source))
			return cred, nil
		}
	}

	return nil, fmt.Errorf("credential not found: %s", key)
}

// HasCredential checks whether a credential can be resolved.
func (m *Manager) HasCredential(ctx context.Context, key string) bool {
	_, err := m.GetCredential(ctx, key)
	return err == nil
}

// ListAvailable lists all resolvable credential keys across providers.
// Values are never included.
func (m *Manager) ListAvailable(ctx context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keySet := make(map[string]struct{})
	for _, provider := range m.providers {
		keys, err := provider.ListAvailable(ctx)
		if err != nil {
			m.logger.Warn("failed to list credentials from provider",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			continue
		}
		for _, key := range keys {
			keySet[key] = struct{}{}
		}
	}

	result := make([]string, 0, len(keySet))
	for key := range keySet {
		result = append(result, key)
	}
	return result
}

// ClearCache drops all cached values, forcing re-resolution.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = make(map[string]*Credential)
}
