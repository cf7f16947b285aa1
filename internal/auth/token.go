// ABOUTME: JWT token issuing and verification for patient bearer tokens
// ABOUTME: Uses HS256 signing with configurable secret and lifetime

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure. Malformed,
// expired, badly signed and subject-less tokens are indistinguishable to callers.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (subjectID string, err error)
}

// TokenIssuer defines the interface for minting tokens
type TokenIssuer interface {
	Issue(subjectID string) (string, error)
}

// JWTService implements TokenVerifier and TokenIssuer using HS256 signed JWTs
type JWTService struct {
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
}

// NewJWTService creates a JWT service with the given secret and token lifetime
func NewJWTService(secret []byte, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: secret,
		ttl:    ttl,
		logger: slog.Default().With("component", "auth"),
	}
}

// Verify validates the token and extracts the subject from the "sub" claim
func (s *JWTService) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		s.logger.Debug("token rejected", "reason", err)
		return "", ErrInvalidToken
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		s.logger.Debug("token rejected", "reason", "missing sub claim")
		return "", ErrInvalidToken
	}

	return sub, nil
}

// Issue creates a token for the subject that expires after the configured TTL
func (s *JWTService) Issue(subjectID string) (string, error) {
	return s.Generate(subjectID, s.ttl)
}

// Generate creates a token for the subject with an explicit lifetime
func (s *JWTService) Generate(subjectID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subjectID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
