package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/auth"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/service"
)

// AuthHandler manages the two identity flows.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister  → create a registered account
//   - HandleLogin     → verify credentials, issue JWT (body + HttpOnly cookie)
//   - HandleAnonymous → mint an anonymous session with reduced quotas
//   - HandleLogout    → clear the JWT cookie
//   - HandleMe        → return the calling principal's profile
type AuthHandler struct {
	accounts *service.AccountService
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(accounts *service.AccountService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: logger}
}

// currentUser resolves the request's principal from whatever identity the
// auth middleware extracted. Shared by every handler that needs a user.
func currentUser(r *http.Request, accounts *service.AccountService) (*model.User, error) {
	userID, _ := auth.UserIDFromContext(r.Context())
	sessionID, _ := auth.SessionIDFromContext(r.Context())
	return accounts.ResolvePrincipal(r.Context(), userID, sessionID)
}

// HandleRegister creates a new registered user.
//
// HTTP: POST /api/auth/register
// REQUEST BODY: {"username": "...", "email": "...", "password": "...", "fullName": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	user, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	// Registering logs the account in — the client gets a token right away
	// instead of bouncing through the login endpoint.
	result, err := h.accounts.IssueToken(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// loginRequest accepts the identifier under either key so clients can send
// a username or an email without caring which one the account used.
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin authenticates by username or email and issues a JWT.
//
// HTTP: POST /api/auth/login
//
// The token is returned in the body for API clients and mirrored into an
// HttpOnly cookie for browser clients, so the frontend never has to store
// it in JavaScript-readable space.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" || req.Password == "" {
		writeError(w, apperror.ValidationFailed("username", "username and password are required"))
		return
	}

	result, err := h.accounts.Login(r.Context(), identifier, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    result.AccessToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, result)
}

// HandleAnonymous mints an anonymous session.
//
// HTTP: POST /api/auth/anonymous
//
// The client must echo the returned session ID in the X-Session-ID header
// on every subsequent request. There is no way to recover a lost session.
func (h *AuthHandler) HandleAnonymous(w http.ResponseWriter, r *http.Request) {
	session, err := h.accounts.CreateAnonymousSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// HandleLogout clears the JWT cookie.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the calling principal's profile.
//
// HTTP: GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
