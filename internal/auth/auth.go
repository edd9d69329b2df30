// Package auth validates the client API key on every request. Two modes:
// plain equality against the configured key, or bcrypt comparison when a
// hash is configured. The hash takes precedence so the plaintext key never
// needs to reach the deployment environment.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"ztoapi/internal/domain"
)

type Verifier struct {
	key  string
	hash string
}

func NewVerifier(key, hash string) *Verifier {
	return &Verifier{key: key, hash: hash}
}

// Verify checks a presented API key.
func (v *Verifier) Verify(presented string) error {
	if presented == "" {
		return domain.ErrInvalidAPIKey
	}

	if v.hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(presented)); err != nil {
			return domain.ErrInvalidAPIKey
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(v.key), []byte(presented)) != 1 {
		return domain.ErrInvalidAPIKey
	}
	return nil
}

// HashKey produces a bcrypt hash suitable for the DEFAULT_KEY_HASH setting.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ExtractAPIKey pulls the bearer token from an Authorization header.
func ExtractAPIKey(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(header)
}
