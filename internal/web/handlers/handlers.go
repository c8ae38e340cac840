package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/shindakun/arclogin/internal/auth"
	"github.com/shindakun/arclogin/internal/metrics"
	"github.com/shindakun/arclogin/internal/models"
	"github.com/shindakun/arclogin/internal/storage"
	"github.com/shindakun/arclogin/internal/version"
)

// SessionReader resolves the logged-in user of a request
type SessionReader interface {
	GetUserID(r *http.Request) (string, bool)
}

// SessionCreator starts a session for a user. On success it has written the
// session cookie and a redirect to redirectTo.
type SessionCreator interface {
	CreateUserSession(w http.ResponseWriter, r *http.Request, userID, redirectTo string) error
}

// SessionStore is the full session collaborator used by the route set
type SessionStore interface {
	SessionReader
	SessionCreator
	ClearSession(w http.ResponseWriter, r *http.Request) error
}

// CredentialVerifier checks an email and password. A mismatch is reported as
// auth.ErrInvalidCredentials.
type CredentialVerifier interface {
	VerifyLogin(ctx context.Context, email, password string) (*models.User, error)
}

// UserStore is the full user collaborator used by the route set
type UserStore interface {
	CredentialVerifier
	CreateUser(ctx context.Context, email, password string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Handlers holds dependencies for HTTP handlers
type Handlers struct {
	sessions  SessionStore
	users     UserStore
	metrics   *metrics.Metrics
	logger    logrus.FieldLogger
	templates *templateSet
}

// New creates a new Handlers instance
func New(sessions SessionStore, users UserStore, m *metrics.Metrics, logger logrus.FieldLogger) (*Handlers, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Handlers{
		sessions:  sessions,
		users:     users,
		metrics:   m,
		logger:    logger,
		templates: templates,
	}, nil
}

// currentUser loads the logged-in user, nil when anonymous
func (h *Handlers) currentUser(r *http.Request) *models.User {
	userID, ok := h.sessions.GetUserID(r)
	if !ok {
		return nil
	}
	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.WithError(err).Warn("failed to load session user")
		}
		return nil
	}
	return user
}

// Home renders the landing page for both anonymous and logged-in visitors
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	data := TemplateData{
		Title: "Home",
		User:  h.currentUser(r),
	}
	h.render(w, r, http.StatusOK, "home", data)
}

// Account renders the account page. RequireUser has already put the user in
// the request context.
func (h *Handlers) Account(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login?redirectTo=/account", http.StatusFound)
		return
	}
	h.render(w, r, http.StatusOK, "account", TemplateData{Title: "Account", User: user})
}

// Logout clears the session
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.ClearSession(w, r); err != nil {
		h.logger.WithError(err).Error("failed to clear session")
		h.InternalError(w, r)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// Healthz reports liveness and the running version
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetVersion(),
	})
}

// NotFound renders the 404 error page
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "404", TemplateData{Title: "Not Found"})
}

// InternalError renders the 500 error page
func (h *Handlers) InternalError(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusInternalServerError, "500", TemplateData{Title: "Error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
