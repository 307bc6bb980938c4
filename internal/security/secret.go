package security

import (
	"errors"
	"os"
	"strings"
)

// MinSecretLength is the shortest HMAC secret accepted at startup (256 bits).
const MinSecretLength = 32

// ErrInvalidSecret is returned when the signing secret is missing or too short.
var ErrInvalidSecret = errors.New("invalid signing secret")

// LoadSecret returns the signing secret from s. If s names a regular file, the file's
// trimmed contents are used; otherwise s itself is the secret.
func LoadSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidSecret
	}
	secret := s
	if fi, err := os.Stat(s); err == nil && fi.Mode().IsRegular() {
		b, err := os.ReadFile(s)
		if err != nil {
			return nil, err
		}
		secret = strings.TrimSpace(string(b))
	}
	if len(secret) < MinSecretLength {
		return nil, ErrInvalidSecret
	}
	return []byte(secret), nil
}
