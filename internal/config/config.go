package config

import (
	"log/slog"
	"strings"
	"time"
)

// Environments select which backend the client talks to
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Default backend base URLs per environment
const (
	DefaultDevelopmentURL = "http://localhost:8080/api"
	DefaultProductionURL  = "https://invobilled-backend.onrender.com/api"
)

// Config represents the client application configuration
type Config struct {
	Environment string           `yaml:"environment"` // development, production
	API         APIConfig        `yaml:"api"`
	Identity    IdentityConfig   `yaml:"identity"`
	Cloudinary  CloudinaryConfig `yaml:"cloudinary"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// APIConfig holds the backend endpoints
type APIConfig struct {
	DevelopmentURL string        `yaml:"development_url"`
	ProductionURL  string        `yaml:"production_url"`
	Timeout        time.Duration `yaml:"timeout"`
	// ExternalHosts never receive credentials; defaults to the Cloudinary hosts
	ExternalHosts []string `yaml:"external_hosts,omitempty"`
}

// IdentityConfig holds the OIDC client registration
type IdentityConfig struct {
	Issuer       string   `yaml:"issuer"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// CloudinaryConfig holds the thumbnail upload settings
type CloudinaryConfig struct {
	Cloud    string `yaml:"cloud"`
	Preset   string `yaml:"preset"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// IsProduction reports whether the production backend is selected
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// BaseURL returns the API base URL for the selected environment
func (c *Config) BaseURL() string {
	if c.IsProduction() {
		return c.API.ProductionURL
	}
	return c.API.DevelopmentURL
}

// LogSummary logs the API configuration at startup
func (c *Config) LogSummary(log *slog.Logger) {
	log.Info("API configuration",
		slog.String("environment", c.Environment),
		slog.String("base_url", c.BaseURL()),
		slog.Bool("is_production", c.IsProduction()),
		slog.Duration("timeout", c.API.Timeout))
}

// NormalizeEnvironment maps common spellings onto the known environments.
// Unknown values are returned unchanged so validation can reject them.
func NormalizeEnvironment(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local":
		return EnvDevelopment
	case "prod", "production":
		return EnvProduction
	default:
		return env
	}
}
