package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mystorage/mystorage/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return log
}

func TestEnvProviderPrefix(t *testing.T) {
	t.Setenv("MYSTORAGE_GITHUB_TOKEN", "prefixed-value")

	p := NewEnvProvider("MYSTORAGE_")
	cred, err := p.GetCredential(context.Background(), KeyGitHubToken)
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred.Value != "prefixed-value" {
		t.Errorf("Value = %q, want %q", cred.Value, "prefixed-value")
	}
	if cred.Key != KeyGitHubToken {
		t.Errorf("Key = %q, want %q", cred.Key, KeyGitHubToken)
	}
}

func TestEnvProviderMissing(t *testing.T) {
	p := NewEnvProvider("MYSTORAGE_")
	if _, err := p.GetCredential(context.Background(), "NO_SUCH_CREDENTIAL"); err == nil {
		t.Fatal("GetCredential() error = nil, want not-found")
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	content := `{"GITHUB_TOKEN": "file-token", "GITHUB_USER": "backup-bot"}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p := NewFileProvider(path)
	cred, err := p.GetCredential(context.Background(), KeyGitHubToken)
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred.Value != "file-token" {
		t.Errorf("Value = %q, want %q", cred.Value, "file-token")
	}

	keys, err := p.ListAvailable(context.Background())
	if err != nil {
		t.Fatalf("ListAvailable() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("ListAvailable() count = %d, want 2", len(keys))
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if _, err := p.GetCredential(context.Background(), KeyGitHubToken); err == nil {
		t.Fatal("GetCredential() error = nil, want not-found")
	}
	keys, err := p.ListAvailable(context.Background())
	if err != nil {
		t.Fatalf("ListAvailable() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("ListAvailable() count = %d, want 0", len(keys))
	}
}

func TestManagerProviderOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(`{"GITHUB_TOKEN": "file-token"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("GITHUB_TOKEN", "env-token")

	m := NewManager(newTestLogger(t))
	m.AddProvider(NewEnvProvider("MYSTORAGE_"))
	m.AddProvider(NewFileProvider(path))

	value, err := m.GetValue(context.Background(), KeyGitHubToken)
	if err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	if value != "env-token" {
		t.Errorf("GetValue() = %q, want env provider to win", value)
	}
}

func TestManagerCaches(t *testing.T) {
	t.Setenv("GITHUB_USER", "backup-bot")

	m := NewManager(newTestLogger(t))
	m.AddProvider(NewEnvProvider(""))

	if _, err := m.GetValue(context.Background(), KeyGitHubUser); err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}

	// The cached value survives the source disappearing.
	os.Unsetenv("GITHUB_USER")
	value, err := m.GetValue(context.Background(), KeyGitHubUser)
	if err != nil {
		t.Fatalf("GetValue() after unset error = %v", err)
	}
	if value != "backup-bot" {
		t.Errorf("GetValue() = %q, want cached %q", value, "backup-bot")
	}

	m.ClearCache()
	if m.HasCredential(context.Background(), KeyGitHubUser) {
		t.Error("HasCredential() = true after cache clear and unset")
	}
}
