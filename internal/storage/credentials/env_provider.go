package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// knownCredentialKeys are the environment variables the service understands.
var knownCredentialKeys = []string{
	KeyGitHubToken,
	KeyGitHubUser,
	KeyGitHubEmail,
}

// EnvProvider provides credentials from environment variables.
type EnvProvider struct {
	prefix string // Optional prefix filter (e.g. "MYSTORAGE_")
}

// NewEnvProvider creates a new environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{
		prefix: prefix,
	}
}

// Name returns the provider name.
func (p *EnvProvider) Name() string {
	return "environment"
}

// GetCredential retrieves a credential from environment variables, first by
// the exact key, then with the configured prefix.
func (p *EnvProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	value := os.Getenv(key)
	if value != "" {
		return &Credential{
			Key:    key,
			Value:  value,
			Source: "environment",
		}, nil
	}

	if p.prefix != "" {
		value = os.Getenv(p.prefix + key)
		if value != "" {
			return &Credential{
				Key:    key,
				Value:  value,
				Source: "environment",
			}, nil
		}
	}

	return nil, fmt.Errorf("credential not found: %s", key)
}

// ListAvailable returns the credential keys resolvable from the environment.
func (p *EnvProvider) ListAvailable(ctx context.Context) ([]string, error) {
	available := make([]string, 0)

	for _, key := range knownCredentialKeys {
		if os.Getenv(key) != "" {
			available = append(available, key)
			continue
		}
		if p.prefix != "" && os.Getenv(p.prefix+key) != "" {
			available = append(available, key)
		}
	}

	// Pick up any other token or secret style variables.
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}

		key := parts[0]
		lowerKey := strings.ToLower(key)
		if !strings.Contains(lowerKey, "_token") && !strings.Contains(lowerKey, "_secret") {
			continue
		}

		if p.prefix != "" && strings.HasPrefix(key, p.prefix) {
			key = strings.TrimPrefix(key, p.prefix)
		}

		seen := false
		for _, existing := range available {
			if existing == key {
				seen = true
				break
			}
		}
		if !seen {
			available = append(available, key)
		}
	}

	return available, nil
}
