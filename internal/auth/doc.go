// Package auth provides patient authentication for consult-gateway.
//
// # Passwords
//
// Passwords are hashed with bcrypt (golang.org/x/crypto/bcrypt). Login
// handlers call VerifyDummy when the email is unknown so an attacker cannot
// tell missing accounts from wrong passwords by timing.
//
// # Tokens
//
// JWTService issues and verifies HS256 JWTs carrying the patient ID in the
// "sub" claim plus "iat" and "exp". Every verification failure is reported
// as ErrInvalidToken. Tokens are stateless; logout is client-side discard.
//
// # HTTP
//
// RequirePatient reads the token from the Authorization header, or from
// the token query parameter for streaming clients that cannot set headers,
// and stores an AuthContext in the request context:
//
//	mux.Handle("GET /users/me", auth.RequirePatient(store, jwt)(handler))
//
// Failures answer 401 {"detail":"Could not validate credentials"} with a
// WWW-Authenticate: Bearer header.
package auth
