package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"github.com/shindakun/arclogin/internal/models"
	"github.com/shindakun/arclogin/internal/storage"
)

const (
	sessionName         = "arclogin-session"
	sessionKeySessionID = "session_id"
)

// SessionManager issues and reads login sessions. The cookie only carries a
// signed session id; the session itself is a row in the sessions table.
type SessionManager struct {
	store  *sessions.CookieStore
	db     *sql.DB
	maxAge time.Duration
}

// InitSessions creates a new session manager with HTTP-only cookies
func InitSessions(secret string, maxAge time.Duration, secure bool, sameSite http.SameSite, db *sql.DB) *SessionManager {
	store := sessions.NewCookieStore([]byte(secret))

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}

	return &SessionManager{
		store:  store,
		db:     db,
		maxAge: maxAge,
	}
}

// cookieSession returns the decoded cookie session. A cookie that fails to
// decode (tampered, or signed with an old secret) yields a fresh session
// rather than an error.
func (sm *SessionManager) cookieSession(r *http.Request) (*sessions.Session, error) {
	cookieSession, err := sm.store.Get(r, sessionName)
	if err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			return cookieSession, nil
		}
		return nil, fmt.Errorf("failed to get cookie session: %w", err)
	}
	return cookieSession, nil
}

// GetSession retrieves the active session for the request
func (sm *SessionManager) GetSession(r *http.Request) (*models.Session, error) {
	cookieSession, err := sm.cookieSession(r)
	if err != nil {
		return nil, err
	}

	sessionID, ok := cookieSession.Values[sessionKeySessionID].(string)
	if !ok || sessionID == "" {
		return nil, ErrNoSession
	}

	session, err := storage.GetSession(r.Context(), sm.db, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	if session.IsExpired() {
		if err := storage.DeleteSession(r.Context(), sm.db, session.ID); err != nil {
			return nil, err
		}
		return nil, ErrNoSession
	}

	return session, nil
}

// GetUserID returns the id of the logged-in user, if any
func (sm *SessionManager) GetUserID(r *http.Request) (string, bool) {
	session, err := sm.GetSession(r)
	if err != nil {
		return "", false
	}
	return session.UserID, true
}

// CreateUserSession starts a session for userID, sets the session cookie and
// redirects to redirectTo. Any session already attached to the request is
// replaced.
func (sm *SessionManager) CreateUserSession(w http.ResponseWriter, r *http.Request, userID, redirectTo string) error {
	cookieSession, err := sm.cookieSession(r)
	if err != nil {
		return err
	}

	if oldID, ok := cookieSession.Values[sessionKeySessionID].(string); ok && oldID != "" {
		if err := storage.DeleteSession(r.Context(), sm.db, oldID); err != nil {
			return err
		}
	}

	session := &models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(sm.maxAge),
		CreatedAt: time.Now(),
	}
	if err := storage.CreateSession(r.Context(), sm.db, session); err != nil {
		return err
	}

	cookieSession.Values[sessionKeySessionID] = session.ID
	if err := cookieSession.Save(r, w); err != nil {
		return fmt.Errorf("failed to save cookie session: %w", err)
	}

	http.Redirect(w, r, redirectTo, http.StatusFound)
	return nil
}

// ClearSession removes session from cookie and database (logout)
func (sm *SessionManager) ClearSession(w http.ResponseWriter, r *http.Request) error {
	cookieSession, err := sm.cookieSession(r)
	if err != nil {
		return err
	}

	if sessionID, ok := cookieSession.Values[sessionKeySessionID].(string); ok && sessionID != "" {
		if err := storage.DeleteSession(r.Context(), sm.db, sessionID); err != nil {
			return err
		}
	}

	delete(cookieSession.Values, sessionKeySessionID)
	cookieSession.Options.MaxAge = -1
	if err := cookieSession.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear cookie session: %w", err)
	}

	return nil
}

// RunCleanup deletes expired sessions every interval until ctx is done
func (sm *SessionManager) RunCleanup(ctx context.Context, every time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := storage.DeleteExpiredSessions(ctx, sm.db, now)
			if err != nil {
				logger.WithError(err).Warn("session cleanup failed")
				continue
			}
			if removed > 0 {
				logger.WithField("removed", removed).Info("expired sessions removed")
			}
		}
	}
}

type contextKey struct{}

// UserFromContext retrieves the user stored by the RequireUser middleware
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*models.User)
	return user, ok && user != nil
}

// ContextWithUser stores user in the request context
func ContextWithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}
