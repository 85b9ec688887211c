package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/RushangSavaliya/chatwire/internal/errs"
)

// tokenRecord is the on-disk shape of the persisted session token. The
// token is the only client state that survives a process restart.
type tokenRecord struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DefaultDir returns the per-user config directory for persisted state.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "chatwire")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chatwire")
}

// TokenFile persists the session token under a single well-known key in a
// config directory.
type TokenFile struct {
	dir string
}

// NewTokenFile stores tokens under dir; an empty dir uses DefaultDir.
func NewTokenFile(dir string) *TokenFile {
	if dir == "" {
		dir = DefaultDir()
	}
	return &TokenFile{dir: dir}
}

func (f *TokenFile) path() string { return filepath.Join(f.dir, "token.json") }

// Save writes the token with its expiry pulled from the JWT exp claim. The
// signature is not verified client-side; the expiry is only used to skip a
// doomed bootstrap round-trip.
func (f *TokenFile) Save(token string) error {
	exp := time.Now().Add(15 * time.Minute)
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenRecord{AccessToken: token, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(), b, 0o600)
}

// Load returns the persisted token, or errs.ErrNoToken if none exists or
// the saved one is already expired.
func (f *TokenFile) Load() (string, error) {
	b, err := os.ReadFile(f.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.ErrNoToken
		}
		return "", err
	}
	var rec tokenRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return "", errs.ErrNoToken
	}
	if rec.AccessToken == "" || time.Now().After(rec.ExpiresAt) {
		return "", errs.ErrNoToken
	}
	return rec.AccessToken, nil
}

// Clear removes the persisted token. Missing file is not an error.
func (f *TokenFile) Clear() error {
	err := os.Remove(f.path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
