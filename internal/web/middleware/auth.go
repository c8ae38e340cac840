package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/shindakun/arclogin/internal/auth"
	"github.com/shindakun/arclogin/internal/models"
)

// SessionReader resolves the logged-in user id of a request
type SessionReader interface {
	GetUserID(r *http.Request) (string, bool)
}

// UserLoader loads a user by id
type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// RequireUser is a middleware that requires a logged-in user.
// Anonymous visitors are sent to /login with the current path as redirectTo.
func RequireUser(sessions SessionReader, users UserLoader, logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := sessions.GetUserID(r)
			if !ok {
				redirectToLogin(w, r)
				return
			}

			user, err := users.GetUserByID(r.Context(), userID)
			if err != nil {
				logger.WithError(err).WithField("user_id", userID).Warn("session user not found")
				redirectToLogin(w, r)
				return
			}

			ctx := auth.ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := "/login?" + url.Values{"redirectTo": {r.URL.RequestURI()}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}
