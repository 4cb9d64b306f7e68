package pantry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/randalmurphal/pantry-go/api"
)

// Credentials is the on-disk form of a registration, stored as TOML:
//
//	name = "my-tool"
//	user_id = "7f6a2f3e-0a57-4b6e-9f52-0a1f5f3d9c11"
//	api_key = "..."
type Credentials struct {
	Name   string    `toml:"name"`
	UserID uuid.UUID `toml:"user_id"`
	APIKey string    `toml:"api_key"`
}

// Identity converts stored credentials to the wire form.
func (c Credentials) Identity() api.Identity {
	return api.Identity{UserID: c.UserID, APIKey: c.APIKey}
}

// DefaultCredentialsPath is ~/.pantry/credentials.toml, or a relative
// fallback when the home directory cannot be resolved.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pantry", "credentials.toml")
	}
	return filepath.Join(home, ".pantry", "credentials.toml")
}

// LoadCredentials reads a credentials file. A missing file returns
// os.ErrNotExist via the underlying open.
func LoadCredentials(path string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("pantry: load credentials: %w", err)
	}
	if creds.UserID == uuid.Nil || creds.APIKey == "" {
		return nil, fmt.Errorf("pantry: credentials file %s is incomplete", path)
	}
	return &creds, nil
}

// SaveCredentials writes the file with owner-only permissions, creating
// parent directories as needed. The API key is a bearer secret; nothing
// else on the machine should read it.
func SaveCredentials(path string, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("pantry: save credentials: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("pantry: save credentials: %w", err)
	}

	if err := toml.NewEncoder(f).Encode(creds); err != nil {
		f.Close()
		return fmt.Errorf("pantry: save credentials: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("pantry: save credentials: %w", err)
	}
	return nil
}
