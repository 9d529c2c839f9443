package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv isolates a test from overrides set in the developer's shell
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvVarEnvironment, EnvVarDevelopmentURL, EnvVarProductionURL,
		EnvVarOIDCIssuer, EnvVarOIDCClientID, EnvVarOIDCSecret, EnvVarCloudinary,
	} {
		t.Setenv(name, "")
	}
	old := DefaultEnvFiles
	DefaultEnvFiles = nil
	t.Cleanup(func() { DefaultEnvFiles = old })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromDefaults()
	if err != nil {
		t.Fatalf("LoadFromDefaults failed: %v", err)
	}
	if cfg.Environment != EnvDevelopment || cfg.IsProduction() {
		t.Errorf("expected development, got %q", cfg.Environment)
	}
	if cfg.BaseURL() != DefaultDevelopmentURL {
		t.Errorf("unexpected base URL %q", cfg.BaseURL())
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.API.Timeout)
	}
	if cfg.Cloudinary.Preset != "invoices-thumbnail" {
		t.Errorf("unexpected preset %q", cfg.Cloudinary.Preset)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_INVOBILLED_CLIENT", "from-env")

	path := writeFile(t, "invobilled.yaml", `
environment: prod
api:
  production_url: https://api.example.com/api
  timeout: 5s
identity:
  issuer: https://id.example.com
  client_id: ${TEST_INVOBILLED_CLIENT}
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production, got %q", cfg.Environment)
	}
	if cfg.BaseURL() != "https://api.example.com/api" {
		t.Errorf("unexpected base URL %q", cfg.BaseURL())
	}
	if cfg.API.DevelopmentURL != DefaultDevelopmentURL {
		t.Errorf("expected default development URL to survive, got %q", cfg.API.DevelopmentURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.API.Timeout)
	}
	if cfg.Identity.ClientID != "from-env" {
		t.Errorf("expected ${VAR} expansion, got %q", cfg.Identity.ClientID)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVarEnvironment, "production")
	t.Setenv(EnvVarProductionURL, "https://staging.example.com/api")
	t.Setenv(EnvVarOIDCClientID, "cli-client")
	t.Setenv(EnvVarCloudinary, "mycloud")

	path := writeFile(t, "invobilled.yaml", "environment: development\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BaseURL() != "https://staging.example.com/api" {
		t.Errorf("env should override file, got %q", cfg.BaseURL())
	}
	if cfg.Identity.ClientID != "cli-client" || cfg.Cloudinary.Cloud != "mycloud" {
		t.Errorf("unexpected overrides %+v %+v", cfg.Identity, cfg.Cloudinary)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	const name = "INVOBILLED_API_BASE_URL_DEVELOPMENT"
	os.Unsetenv(name)
	t.Cleanup(func() { os.Unsetenv(name) })

	DefaultEnvFiles = []string{
		writeFile(t, ".env", name+"=http://127.0.0.1:9999/api\n"),
		filepath.Join(t.TempDir(), "missing.env"),
	}

	cfg, err := LoadFromDefaults()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseURL() != "http://127.0.0.1:9999/api" {
		t.Errorf("expected .env value, got %q", cfg.BaseURL())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown environment", "environment: staging\n"},
		{"relative url", "api:\n  development_url: /api\n"},
		{"bad issuer", "identity:\n  issuer: not-a-url\n"},
		{"huge timeout", "api:\n  timeout: 1h\n"},
		{"bad yaml", "api: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeFile(t, "c.yaml", tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestNormalizeEnvironment(t *testing.T) {
	tests := map[string]string{
		"":            EnvDevelopment,
		"dev":         EnvDevelopment,
		" Production": EnvProduction,
		"PROD":        EnvProduction,
		"staging":     "staging",
	}
	for in, want := range tests {
		if got := NormalizeEnvironment(in); got != want {
			t.Errorf("NormalizeEnvironment(%q) = %q, want %q", in, got, want)
		}
	}
}
