package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/invobilled/invobilled/internal/identity"
)

// FileStore keeps identity credentials in a JSON file readable only by the owner
type FileStore struct {
	path string
}

var _ identity.TokenStore = (*FileStore)(nil)

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credentials file location
func (f *FileStore) Path() string {
	return f.path
}

// Load reads credentials from disk
func (f *FileStore) Load() (*identity.Credentials, error) {
	slog.Debug("loading credentials from file",
		slog.String("component", "cli-creds"),
		slog.String("path", f.path))

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, identity.ErrNotSignedIn
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds identity.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, identity.ErrNotSignedIn
	}

	return &creds, nil
}

// Save writes credentials to disk
func (f *FileStore) Save(creds *identity.Credentials) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	// Write with restricted permissions (read/write for owner only)
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	slog.Debug("credentials saved",
		slog.String("component", "cli-creds"),
		slog.Time("expires_at", creds.Expiry()))
	return nil
}

// Clear removes the credentials file
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// credentialsPath returns the credentials file for a context
func credentialsPath(contextName string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "invobilled")
	filename := fmt.Sprintf("credentials-%s.json", contextName)
	return filepath.Join(configDir, filename), nil
}
