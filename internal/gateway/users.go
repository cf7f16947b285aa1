// ABOUTME: Patient registration, password login and profile handlers
// ABOUTME: Login issues a bearer JWT whose subject is the patient id

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/2389/consult-gateway/internal/auth"
	"github.com/2389/consult-gateway/internal/store"
)

// RegisterRequest is the JSON request body for POST /users.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Age      *int   `json:"age,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

// TokenResponse is the JSON response for POST /login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// parseRegisterRequest decodes and validates a registration body.
func parseRegisterRequest(w http.ResponseWriter, r *http.Request) (*RegisterRequest, error) {
	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	req.Email = store.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if req.Email == "" {
		return nil, errors.New("email is required")
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		return nil, errors.New("invalid email address")
	}
	if req.Password == "" {
		return nil, errors.New("password is required")
	}
	if req.Name == "" {
		return nil, errors.New("name is required")
	}
	if req.Age != nil && (*req.Age < 0 || *req.Age > 150) {
		return nil, errors.New("age must be between 0 and 150")
	}
	return &req, nil
}

// handleRegister handles POST /users.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := parseRegisterRequest(w, r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password, g.config.Auth.BcryptCost)
	if err != nil {
		g.sendInternalError(w, "failed to hash password", err)
		return
	}

	patient := &store.Patient{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Age:          req.Age,
		Gender:       strings.TrimSpace(req.Gender),
	}
	if err := g.store.CreatePatient(r.Context(), patient); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			g.sendJSONError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		g.sendInternalError(w, "failed to create patient", err)
		return
	}

	g.logger.Info("patient registered", "patient_id", patient.ID)
	g.writeJSON(w, http.StatusCreated, toPatientResponse(patient))
}

// handleLogin handles POST /login with an OAuth2 password-grant form.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	email := store.NormalizeEmail(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if email == "" || password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	patient, err := g.store.GetPatientByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.sendInternalError(w, "failed to load patient", err)
		return
	}

	// same bcrypt work whether or not the email exists
	if patient == nil {
		auth.VerifyDummy(password)
		g.sendJSONError(w, http.StatusForbidden, "Invalid Credentials")
		return
	}
	if !auth.VerifyPassword(password, patient.PasswordHash) {
		g.sendJSONError(w, http.StatusForbidden, "Invalid Credentials")
		return
	}

	token, err := g.tokens.Issue(strconv.FormatInt(patient.ID, 10))
	if err != nil {
		g.sendInternalError(w, "failed to issue token", err)
		return
	}

	g.logger.Info("patient logged in", "patient_id", patient.ID)
	g.writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleMe handles GET /users/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	patient, err := g.store.GetPatient(r.Context(), ac.PatientID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Patient not found")
		return
	}
	if err != nil {
		g.sendInternalError(w, "failed to load patient", err)
		return
	}

	g.writeJSON(w, http.StatusOK, toPatientResponse(patient))
}
