package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/upload"
)

// Environment variables that override the config file
const (
	EnvVarEnvironment    = "INVOBILLED_ENV"
	EnvVarDevelopmentURL = "INVOBILLED_API_BASE_URL_DEVELOPMENT"
	EnvVarProductionURL  = "INVOBILLED_API_BASE_URL_PRODUCTION"
	EnvVarOIDCIssuer     = "INVOBILLED_OIDC_ISSUER"
	EnvVarOIDCClientID   = "INVOBILLED_OIDC_CLIENT_ID"
	EnvVarOIDCSecret     = "INVOBILLED_OIDC_CLIENT_SECRET"
	EnvVarCloudinary     = "INVOBILLED_CLOUDINARY_CLOUD"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./invobilled.yaml",
	"./invobilled.yml",
	"./configs/invobilled.yaml",
	"/etc/invobilled/config.yaml",
}

// DefaultEnvFiles are dotenv files loaded before the environment is read.
// Variables already set in the process environment take precedence.
var DefaultEnvFiles = []string{".env"}

// Defaults returns the configuration used when nothing is configured
func Defaults() *Config {
	return &Config{
		Environment: EnvDevelopment,
		API: APIConfig{
			DevelopmentURL: DefaultDevelopmentURL,
			ProductionURL:  DefaultProductionURL,
			Timeout:        client.DefaultTimeout,
		},
		Cloudinary: CloudinaryConfig{
			Cloud:  upload.DefaultCloud,
			Preset: upload.DefaultPreset,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the configuration from the specified file or default locations,
// then applies dotenv files and environment overrides
func Load(configPath string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	config := Defaults()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		slog.Debug("loading config", slog.String("path", configPath))
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := Finalize(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Finalize applies environment overrides to a config assembled by the
// caller, fills remaining defaults and validates the result
func Finalize(config *Config) error {
	applyEnv(config)
	config.Environment = NormalizeEnvironment(config.Environment)
	if config.API.Timeout <= 0 {
		config.API.Timeout = client.DefaultTimeout
	}
	return validate(config)
}

// LoadEnvFiles loads DefaultEnvFiles into the process environment
func LoadEnvFiles() error {
	return loadEnvFiles(DefaultEnvFiles...)
}

// LoadFromDefaults loads configuration using only defaults and environment variables
func LoadFromDefaults() (*Config, error) {
	return Load("")
}

// loadEnvFiles loads dotenv files, skipping ones that don't exist
func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if !fileExists(path) {
			continue
		}
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(config *Config) {
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvVarEnvironment, &config.Environment},
		{EnvVarDevelopmentURL, &config.API.DevelopmentURL},
		{EnvVarProductionURL, &config.API.ProductionURL},
		{EnvVarOIDCIssuer, &config.Identity.Issuer},
		{EnvVarOIDCClientID, &config.Identity.ClientID},
		{EnvVarOIDCSecret, &config.Identity.ClientSecret},
		{EnvVarCloudinary, &config.Cloudinary.Cloud},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.target = v
		}
	}
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// validate performs basic validation on the configuration
func validate(config *Config) error {
	switch config.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, config.Environment)
	}

	if err := validateURL("api.development_url", config.API.DevelopmentURL); err != nil {
		return err
	}
	if err := validateURL("api.production_url", config.API.ProductionURL); err != nil {
		return err
	}
	if config.Identity.Issuer != "" {
		if err := validateURL("identity.issuer", config.Identity.Issuer); err != nil {
			return err
		}
	}
	if config.API.Timeout > 5*time.Minute {
		return fmt.Errorf("api.timeout must not exceed 5m")
	}

	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return nil
}
