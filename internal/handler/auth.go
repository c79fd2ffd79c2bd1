package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/auth"
	"github.com/pavelanni/vidquiz/internal/model"
)

var errNotAuthenticated = apperr.New(apperr.KindUnauthorized, "NotAuthenticated", "Not authenticated")

// tokenFromRequest returns the bearer token from the Authorization header or
// the "token" query parameter.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// requireAuth is middleware that resolves the bearer token to a user.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := tokenFromRequest(r)
		if tok == "" {
			writeError(w, r, errNotAuthenticated)
			return
		}
		user, err := h.Auth.ResolveToken(r.Context(), tok)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.Auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user signed up", "username", u.Username)
	writeMessage(w, r, http.StatusCreated, "UserCreated", nil)
}

// handleToken issues a token for form credentials. The email may arrive in
// either the "username" (OAuth2 password form) or "email" field.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindValidation, "InvalidForm", "Could not parse form data", err))
		return
	}
	email := r.PostFormValue("username")
	if email == "" {
		email = r.PostFormValue("email")
	}
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeError(w, r, auth.ErrInvalidCredentials)
		return
	}

	tok, err := h.Auth.IssueToken(r.Context(), email, password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	tok := tokenFromRequest(r)
	if tok == "" {
		writeError(w, r, errNotAuthenticated)
		return
	}
	user, err := h.Auth.ResolveToken(r.Context(), tok)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Auth.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}
