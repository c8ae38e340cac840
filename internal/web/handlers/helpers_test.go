package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/shindakun/arclogin/internal/auth"
	"github.com/shindakun/arclogin/internal/metrics"
	"github.com/shindakun/arclogin/internal/models"
	"github.com/shindakun/arclogin/internal/storage"
)

type createdSession struct {
	UserID     string
	RedirectTo string
}

// fakeSessions records session calls instead of touching cookies or a database
type fakeSessions struct {
	userID    string
	created   []createdSession
	createErr error
	cleared   bool
	clearErr  error
}

func (f *fakeSessions) GetUserID(r *http.Request) (string, bool) {
	return f.userID, f.userID != ""
}

func (f *fakeSessions) CreateUserSession(w http.ResponseWriter, r *http.Request, userID, redirectTo string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, createdSession{UserID: userID, RedirectTo: redirectTo})
	http.SetCookie(w, &http.Cookie{Name: "test-session", Value: userID, Path: "/"})
	http.Redirect(w, r, redirectTo, http.StatusFound)
	return nil
}

func (f *fakeSessions) ClearSession(w http.ResponseWriter, r *http.Request) error {
	f.cleared = true
	return f.clearErr
}

type verifyCall struct {
	Email, Password string
}

// fakeUsers is an in-memory user store keyed by email
type fakeUsers struct {
	passwords map[string]string
	byEmail   map[string]*models.User
	verified  []verifyCall
	verifyErr error
	createErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		passwords: map[string]string{},
		byEmail:   map[string]*models.User{},
	}
}

func (f *fakeUsers) add(id, email, password string) *models.User {
	user := &models.User{ID: id, Email: email, CreatedAt: time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC)}
	f.byEmail[email] = user
	f.passwords[email] = password
	return user
}

func (f *fakeUsers) VerifyLogin(ctx context.Context, email, password string) (*models.User, error) {
	f.verified = append(f.verified, verifyCall{Email: email, Password: password})
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	user, ok := f.byEmail[email]
	if !ok || f.passwords[email] != password {
		return nil, auth.ErrInvalidCredentials
	}
	return user, nil
}

func (f *fakeUsers) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.byEmail[email]; ok {
		return nil, auth.ErrUserExists
	}
	return f.add("new-"+email, email, password), nil
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	for _, user := range f.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, storage.ErrNotFound
}

func newTestHandlers(t *testing.T, sessions SessionStore, users UserStore) *Handlers {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h, err := New(sessions, users, metrics.New(), logger)
	require.NoError(t, err)
	return h
}

// postForm builds a urlencoded POST request
func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSONClient(target string, values url.Values) *http.Request {
	req := postForm(target, values)
	req.Header.Set("Accept", "application/json")
	return req
}
