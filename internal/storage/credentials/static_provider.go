package credentials

import (
	"context"
	"fmt"
)

// StaticProvider serves credentials from a fixed in-memory map. It backs
// configuration-supplied values such as the storage identity.
type StaticProvider struct {
	values map[string]string
}

// NewStaticProvider creates a provider over the given values. Empty values
// are treated as absent.
func NewStaticProvider(values map[string]string) *StaticProvider {
	filtered := make(map[string]string, len(values))
	for key, value := range values {
		if value != "" {
			filtered[key] = value
		}
	}
	return &StaticProvider{values: filtered}
}

// GetCredential retrieves a credential by key.
func (p *StaticProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	value, ok := p.values[key]
	if !ok {
		return nil, fmt.Errorf("credential %s not found", key)
	}
	return &Credential{
		Key:    key,
		Value:  value,
		Source: p.Name(),
	}, nil
}

// ListAvailable returns the keys this provider can serve.
func (p *StaticProvider) ListAvailable(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(p.values))
	for key := range p.values {
		keys = append(keys, key)
	}
	return keys, nil
}

// Name returns the provider name.
func (p *StaticProvider) Name() string {
	return "static"
}
