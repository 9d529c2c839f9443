package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// WebServerConfig represents the web server configuration. API, identity and
// Cloudinary settings come from the shared application config named by App.
type WebServerConfig struct {
	Server  HTTPServer    `yaml:"server"`
	App     AppRef        `yaml:"app"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Session SessionConfig `yaml:"session"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPServer holds HTTP server configuration
type HTTPServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AppRef points at the shared invobilled config file
type AppRef struct {
	ConfigPath string `yaml:"config_path"` // empty searches the default locations
}

// OAuthConfig holds the sign-in redirect configuration
type OAuthConfig struct {
	RedirectURI   string `yaml:"redirect_uri"`
	AfterSignIn   string `yaml:"after_sign_in"`
	AfterSignOut  string `yaml:"after_sign_out"`
	ProviderRetry int    `yaml:"provider_retry"` // discovery attempts at startup
}

// SessionConfig holds cookie session configuration
type SessionConfig struct {
	Secret string `yaml:"secret"` // 32-byte base64-encoded key
	Secure bool   `yaml:"secure"`
	MaxAge int    `yaml:"max_age"` // seconds
}

// SyncConfig bounds the user sync that runs after sign-in
type SyncConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfigPaths defines the default locations to search for web configuration files
var DefaultConfigPaths = []string{
	"./web.yaml",
	"./web.yml",
	"./configs/web.yaml",
	"./configs/web.yml",
	"/etc/invobilled/web.yaml",
}

// Defaults returns the configuration used when no file is found
func Defaults() *WebServerConfig {
	return &WebServerConfig{
		Server: HTTPServer{
			Host: "localhost",
			Port: 8080,
		},
		OAuth: OAuthConfig{
			RedirectURI:   "http://localhost:8080/auth/callback",
			AfterSignIn:   "/dashboard",
			AfterSignOut:  "/",
			ProviderRetry: 5,
		},
		Session: SessionConfig{
			MaxAge: 30 * 24 * 60 * 60,
		},
		Sync: SyncConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads the web server configuration from the specified file or default locations
func Load(configPath string) (*WebServerConfig, error) {
	config := Defaults()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment variables take precedence
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		config.Session.Secret = secret
	}
	if redirect := os.Getenv("INVOBILLED_WEB_REDIRECT_URI"); redirect != "" {
		config.OAuth.RedirectURI = redirect
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// SessionKey decodes the configured session secret. It returns nil when no
// secret is configured.
func (c *WebServerConfig) SessionKey() ([]byte, error) {
	if c.Session.Secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Session.Secret)
	if err != nil {
		return nil, fmt.Errorf("session.secret must be base64: %w", err)
	}
	return key, nil
}

// Addr returns the listen address
func (c *WebServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogSummary logs the effective settings without secrets
func (c *WebServerConfig) LogSummary(log *slog.Logger) {
	log.Info("web configuration",
		slog.String("addr", c.Addr()),
		slog.String("redirect_uri", c.OAuth.RedirectURI),
		slog.Bool("secure_cookies", c.Session.Secure),
		slog.Bool("session_secret", c.Session.Secret != ""))
}

func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func validate(config *WebServerConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	u, err := url.Parse(config.OAuth.RedirectURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("oauth.redirect_uri must be an absolute URL")
	}

	if config.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}

	if _, err := config.SessionKey(); err != nil {
		return err
	}
	return nil
}
