package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	appconfig "github.com/invobilled/invobilled/internal/config"
)

// Context is a named backend target the CLI can switch between
type Context struct {
	Environment string `yaml:"environment"`
	API         struct {
		// BaseURL overrides the environment's default backend URL
		BaseURL string `yaml:"base_url,omitempty"`
	} `yaml:"api"`
	Identity struct {
		Issuer   string `yaml:"issuer,omitempty"`
		ClientID string `yaml:"client_id,omitempty"`
	} `yaml:"identity"`
	Cloudinary struct {
		Cloud string `yaml:"cloud,omitempty"`
	} `yaml:"cloudinary"`
	Rendering struct {
		Theme string `yaml:"theme"`
	} `yaml:"rendering"`
}

// Config is the contents of ~/.invobilled
type Config struct {
	CurrentContext string              `yaml:"current-context"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// DefaultConfig returns a config with a "dev" and a "prod" context, dev active
func DefaultConfig() *Config {
	cfg := &Config{CurrentContext: "dev"}
	for name, env := range map[string]string{
		"dev":  appconfig.EnvDevelopment,
		"prod": appconfig.EnvProduction,
	} {
		ctx := &Context{Environment: env}
		ctx.Rendering.Theme = "auto"
		cfg.AddContext(name, ctx)
	}
	return cfg
}

// GetCurrentContext returns the active context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, errors.New("no current context set")
	}
	if ctx, ok := c.Contexts[c.CurrentContext]; ok {
		return ctx, nil
	}
	return nil, fmt.Errorf("current context %q not found", c.CurrentContext)
}

// SetCurrentContext makes an existing context the active one
func (c *Config) SetCurrentContext(name string) error {
	if err := c.mustExist(name); err != nil {
		return err
	}
	c.CurrentContext = name
	return nil
}

// AddContext stores ctx under name, replacing any previous entry. The first
// context added to an empty config becomes current.
func (c *Config) AddContext(name string, ctx *Context) {
	if c.Contexts == nil {
		c.Contexts = make(map[string]*Context)
	}
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
}

// DeleteContext removes a context other than the active one
func (c *Config) DeleteContext(name string) error {
	if name == c.CurrentContext {
		return fmt.Errorf("cannot delete current context %q", name)
	}
	if err := c.mustExist(name); err != nil {
		return err
	}
	delete(c.Contexts, name)
	return nil
}

// ContextNames returns the context names in sorted order
func (c *Config) ContextNames() []string {
	return slices.Sorted(maps.Keys(c.Contexts))
}

func (c *Config) mustExist(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q does not exist", name)
	}
	return nil
}

// AppConfig resolves the application configuration for the current context.
// Context values replace the built-in defaults; INVOBILLED_* environment
// variables still take precedence over both.
func (c *Config) AppConfig() (*appconfig.Config, error) {
	ctx, err := c.GetCurrentContext()
	if err != nil {
		return nil, err
	}
	if err := appconfig.LoadEnvFiles(); err != nil {
		return nil, err
	}

	app := appconfig.Defaults()
	ctx.apply(app)
	if err := appconfig.Finalize(app); err != nil {
		return nil, fmt.Errorf("invalid configuration for context %q: %w", c.CurrentContext, err)
	}
	return app, nil
}

func (ctx *Context) apply(app *appconfig.Config) {
	if ctx.Environment != "" {
		app.Environment = appconfig.NormalizeEnvironment(ctx.Environment)
	}
	if ctx.API.BaseURL != "" {
		if app.IsProduction() {
			app.API.ProductionURL = ctx.API.BaseURL
		} else {
			app.API.DevelopmentURL = ctx.API.BaseURL
		}
	}
	if ctx.Identity.Issuer != "" {
		app.Identity.Issuer = ctx.Identity.Issuer
	}
	if ctx.Identity.ClientID != "" {
		app.Identity.ClientID = ctx.Identity.ClientID
	}
	if ctx.Cloudinary.Cloud != "" {
		app.Cloudinary.Cloud = ctx.Cloudinary.Cloud
	}
}

// BaseURL returns the backend URL this context points at
func (ctx *Context) BaseURL() string {
	if ctx.API.BaseURL != "" {
		return ctx.API.BaseURL
	}
	if appconfig.NormalizeEnvironment(ctx.Environment) == appconfig.EnvProduction {
		return appconfig.DefaultProductionURL
	}
	return appconfig.DefaultDevelopmentURL
}

// GetConfigPath returns the path of the CLI config file, ~/.invobilled
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".invobilled"), nil
}

// LoadConfig reads the CLI config, writing the defaults on first use
func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := DefaultConfig()
		if err := writeConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.CurrentContext == "" && len(cfg.Contexts) > 0 {
		cfg.CurrentContext = cfg.ContextNames()[0]
	}
	return cfg, nil
}

// SaveConfig writes the CLI config back to disk
func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return writeConfig(path, cfg)
}

// writeConfig replaces the file through a rename so a failed write never
// leaves a truncated config behind
func writeConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".invobilled-*")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
