package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BOOKMIRROR_CLIENT_ID", "client-123")
	t.Setenv("BOOKMIRROR_REDIRECT_URL", "https://mirror.example.com/auth/callback")
	t.Setenv("BOOKMIRROR_REDIS_ADDR", "localhost:6379")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("BOOKMIRROR_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.TokenSkew != 5*time.Minute {
		t.Errorf("TokenSkew = %v, want 5m", cfg.TokenSkew)
	}
	if cfg.MaxPages != 10 {
		t.Errorf("MaxPages = %d, want 10", cfg.MaxPages)
	}
	if len(cfg.Scopes) != 4 || cfg.Scopes[2] != "bookmark.read" {
		t.Errorf("Scopes = %v", cfg.Scopes)
	}
	if cfg.Platform != "x" {
		t.Errorf("Platform = %q, want x", cfg.Platform)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("BOOKMIRROR_CONFIG_FILE", "")
	t.Setenv("BOOKMIRROR_CLIENT_ID", "")
	t.Setenv("BOOKMIRROR_REDIRECT_URL", "")
	t.Setenv("BOOKMIRROR_REDIS_ADDR", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail without required settings")
	}
	for _, key := range []string{"CLIENT_ID", "REDIRECT_URL", "REDIS_ADDR"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "bookmirror.yaml")
	content := `
max_pages: 3
media_workers: 4
scopes:
  - tweet.read
  - bookmark.read
client_id: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOOKMIRROR_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxPages != 3 {
		t.Errorf("MaxPages = %d, want 3 from file", cfg.MaxPages)
	}
	if cfg.MediaWorkers != 4 {
		t.Errorf("MediaWorkers = %d, want 4 from file", cfg.MediaWorkers)
	}
	if len(cfg.Scopes) != 2 {
		t.Errorf("Scopes = %v, want 2 entries", cfg.Scopes)
	}
	// environment wins over the file
	if cfg.ClientID != "client-123" {
		t.Errorf("ClientID = %q, want env value", cfg.ClientID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}, wantErr: false},
		{name: "zero pages", mutate: func(c *Config) { c.MaxPages = 0 }, wantErr: true},
		{name: "page size too large", mutate: func(c *Config) { c.PageSize = 500 }, wantErr: true},
		{name: "no media workers", mutate: func(c *Config) { c.MediaWorkers = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{MaxPages: 10, PageSize: 100, MediaWorkers: 6}
			tt.mutate(cfg)
			if err := cfg.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{name: "valid duration", value: "5s", def: time.Second, expected: 5 * time.Second},
		{name: "invalid duration uses default", value: "invalid", def: 10 * time.Second, expected: 10 * time.Second},
		{name: "missing uses default", value: "", def: 15 * time.Second, expected: 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BOOKMIRROR_TEST_DURATION", tt.value)
			s := &source{file: map[string]string{}}
			if got := s.mustDuration("TEST_DURATION", tt.def); got != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(` "a", b ,, 'c' `)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitAndTrim() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitAndTrim()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
