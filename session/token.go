package session

import (
	"encoding/hex"
	"fmt"
	"io"
)

// TokenBytes is the entropy of a session token: 160 bits.
const TokenBytes = 20

// NewToken reads TokenBytes from r and renders them as lowercase hex.
func NewToken(r io.Reader) (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidToken reports whether s has the shape of a token.
func ValidToken(s string) bool {
	if len(s) != 2*TokenBytes {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
