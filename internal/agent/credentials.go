package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNotLoggedIn is returned when no valid credentials are stored.
var ErrNotLoggedIn = errors.New("no valid token (login required)")

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Credentials identify the signed-in user.
type Credentials struct {
	UserID    u.UUID
	Token     string
	ExpiresAt time.Time // zero: no expiry
}

// Valid reports whether the token is present and not expired at now.
func (c Credentials) Valid(now time.Time) bool {
	if c.Token == "" || c.UserID == u.Nil {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// NewCredentials reads the expiry from the token's exp claim, without verifying it.
// The server is the one that checks the signature.
func NewCredentials(userID u.UUID, token string) Credentials {
	token = strings.TrimSpace(token)
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(token, &claims)
	c := Credentials{UserID: userID, Token: token}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
	}
	return c
}

func tokenPath(dir string) string  { return filepath.Join(dir, "token.json") }
func userIDPath(dir string) string { return filepath.Join(dir, "user_id") }

// SaveCredentials writes token.json and user_id into dir.
func SaveCredentials(dir string, c Credentials) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: c.Token, ExpiresAt: c.ExpiresAt}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tokenPath(dir), b, 0o600); err != nil {
		return err
	}
	return os.WriteFile(userIDPath(dir), []byte(c.UserID.String()), 0o600)
}

// LoadCredentials reads the stored credentials; ErrNotLoggedIn when absent or expired.
func LoadCredentials(dir string) (Credentials, error) {
	b, err := os.ReadFile(tokenPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNotLoggedIn
	}
	if err != nil {
		return Credentials{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return Credentials{}, fmt.Errorf("token.json: %w", err)
	}
	raw, err := os.ReadFile(userIDPath(dir))
	if err != nil {
		return Credentials{}, ErrNotLoggedIn
	}
	id, err := u.FromString(strings.TrimSpace(string(raw)))
	if err != nil {
		return Credentials{}, fmt.Errorf("user_id: %w", err)
	}
	c := Credentials{UserID: id, Token: tf.AccessToken, ExpiresAt: tf.ExpiresAt}
	if !c.Valid(time.Now()) {
		return Credentials{}, ErrNotLoggedIn
	}
	return c, nil
}

// RemoveCredentials deletes the stored credentials. Missing files are fine.
func RemoveCredentials(dir string) error {
	for _, p := range []string{tokenPath(dir), userIDPath(dir)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
