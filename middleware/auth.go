package middleware

import (
	"context"
	"net/http"

	"scuffedchat/models"
)

type contextKey string

const UserContextKey contextKey = "user"

// SessionCookie is the name of the session cookie
const SessionCookie = "session"

// Sessions resolves a session id to its user
type Sessions interface {
	SessionUser(sessionID string) (*models.User, error)
}

// Auth returns middleware that checks for a valid session and adds the user
// to the request context
func Auth(sessions Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := authenticate(sessions, r)
			if user == nil {
				http.Error(w, `{"success": false, "error": "Unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(sessions Sessions, r *http.Request) *models.User {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	user, err := sessions.SessionUser(cookie.Value)
	if err != nil {
		return nil
	}
	return user
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
