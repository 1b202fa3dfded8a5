package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken   = errors.New("authorization header is empty")
	ErrMalformedToken = errors.New("authorization header must be of the form 'Bearer <token>'")
)

// TokenExtractor turns an Authorization header into a user ID.
// Tokens are currently opaque user IDs issued by the lab's identity gateway.
type TokenExtractor struct{}

// NewTokenExtractor creates a new TokenExtractor
func NewTokenExtractor() *TokenExtractor {
	return &TokenExtractor{}
}

// ExtractUserIDFromHeader parses "Bearer <userID>".
func (te *TokenExtractor) ExtractUserIDFromHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedToken
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedToken
	}
	return token, nil
}
