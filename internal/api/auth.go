/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/friendsincode/taskplanner/internal/auth"
)

type loginRequest struct {
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if a.password == nil || a.password.Verify(req.Password) != nil {
		a.logger.Warn().Str("remote", r.RemoteAddr).Msg("failed login")
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, claims, err := auth.Issue(a.jwtSecret, auth.OwnerSubject, a.sessionTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("issue session token")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	expires := claims.ExpiresAt.Time
	auth.SetSessionCookie(w, token, expires, a.secureCookies)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"token":      token,
		"expires_at": expires,
	})
}

// Sessions are stateless; logout only drops the cookie.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, a.secureCookies)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
