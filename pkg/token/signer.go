package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// Separator splits the value from its signature.
	Separator = "."
	// SignatureLength is the number of hex characters kept from the digest.
	SignatureLength = 16
)

// ErrMissingSecret is returned when a signer is built without a secret.
var ErrMissingSecret = errors.New("token signing secret is empty")

// Signer signs and verifies cookie values with a server-only secret.
// It is stateless and safe for concurrent use.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns value + "." + signature.
func (s *Signer) Sign(value string) string {
	return value + Separator + s.signature(value)
}

// Verify returns the embedded value when the token carries exactly one
// separator and its signature matches. Anything else is invalid and the
// value must not be trusted.
func (s *Signer) Verify(token string) (string, bool) {
	if strings.Count(token, Separator) != 1 {
		return "", false
	}
	value, sig, _ := strings.Cut(token, Separator)
	if len(sig) != SignatureLength {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(value))) {
		return "", false
	}
	return value, true
}

func (s *Signer) signature(value string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))[:SignatureLength]
}
