// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the token from the Authorization header or token query parameter

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/consult-gateway/internal/store"
)

// UnauthorizedDetail is the single message returned for any authentication failure.
const UnauthorizedDetail = "Could not validate credentials"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter used by streaming clients.
func TokenFromRequest(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// Authenticate verifies a token and loads the patient it names.
// Every failure is reported as ErrInvalidToken.
func Authenticate(ctx context.Context, verifier TokenVerifier, patients store.PatientStore, token string) (*AuthContext, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	sub, err := verifier.Verify(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	patient, err := patients.GetPatient(ctx, id)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &AuthContext{PatientID: patient.ID, Email: patient.Email}, nil
}

// WriteUnauthorized answers 401 with the bearer challenge header.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": UnauthorizedDetail})
}

// RequirePatient creates an HTTP middleware that authenticates the caller and
// adds AuthContext to the request context.
func RequirePatient(patients store.PatientStore, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := Authenticate(r.Context(), verifier, patients, TokenFromRequest(r))
			if err != nil {
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), ac)))
		})
	}
}
