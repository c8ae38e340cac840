package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shindakun/arclogin/internal/auth"
	"github.com/shindakun/arclogin/internal/config"
	"github.com/shindakun/arclogin/internal/metrics"
	"github.com/shindakun/arclogin/internal/models"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubSessions struct{ userID string }

func (s stubSessions) GetUserID(r *http.Request) (string, bool) { return s.userID, s.userID != "" }

type stubUsers map[string]*models.User

func (s stubUsers) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s[id]; ok {
		return user, nil
	}
	return nil, errors.New("not found")
}

func TestRequireUser(t *testing.T) {
	users := stubUsers{"user-1": {ID: "user-1", Email: "a@b.com"}}

	var seen *models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserFromContext(r.Context())
	})

	t.Run("anonymous is redirected to login", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireUser(stubSessions{}, users, discardLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account?tab=1", nil))

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/login?redirectTo=%2Faccount%3Ftab%3D1", rec.Header().Get("Location"))
	})

	t.Run("unknown user is redirected to login", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireUser(stubSessions{userID: "gone"}, users, discardLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account", nil))
		assert.Equal(t, http.StatusFound, rec.Code)
	})

	t.Run("user is put in context", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireUser(stubSessions{userID: "user-1"}, users, discardLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account", nil))

		require.NotNil(t, seen)
		assert.Equal(t, "a@b.com", seen.Email)
	})
}

func TestCSRFProtection(t *testing.T) {
	secret := []byte("test-secret-key-32-bytes-long!!!")

	var token string
	handler := CSRFProtection(secret, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = csrf.Token(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("GET issues a token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, token)
	})

	t.Run("POST without a token is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("email=a@b.com&password=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestCSRFFailureHandler(t *testing.T) {
	t.Run("JSON client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		CSRFFailureHandler(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"invalid csrf token"}`, rec.Body.String())
	})

	t.Run("browser", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CSRFFailureHandler(rec, httptest.NewRequest(http.MethodPost, "/login", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "CSRF")
	})
}

func TestSecurityHeaders(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Security: config.SecurityConfig{
				Headers: config.SecurityHeadersConfig{
					XFrameOptions:           "DENY",
					XContentTypeOptions:     "nosniff",
					ContentSecurityPolicy:   "default-src 'self'",
					StrictTransportSecurity: "max-age=31536000",
				},
			},
		},
	}

	t.Run("plain http skips HSTS", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SecurityHeaders(cfg)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))
		assert.Empty(t, rec.Header().Get("Referrer-Policy"))
		assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	})

	t.Run("https sets HSTS", func(t *testing.T) {
		httpsCfg := *cfg
		httpsCfg.Server.BaseURL = "https://login.example.com"
		rec := httptest.NewRecorder()
		SecurityHeaders(&httpsCfg)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, "max-age=31536000", rec.Header().Get("Strict-Transport-Security"))
	})
}

func TestMaxBytesMiddleware(t *testing.T) {
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("much too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestLoginRateLimiter(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewLoginRateLimiter(60, 2)
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = limiter.Allow("1.2.3.4")
	assert.True(t, ok)

	ok, wait := limiter.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = limiter.Allow("5.6.7.8")
	assert.True(t, ok, "other clients have their own bucket")

	now = now.Add(time.Second)
	ok, _ = limiter.Allow("1.2.3.4")
	assert.True(t, ok, "one token refills per second")

	now = now.Add(limiterIdleTTL + 2*time.Minute)
	limiter.Allow("9.9.9.9")
	assert.Equal(t, 1, limiter.Len(), "idle clients are pruned")
}

func TestLoginRateLimiterMiddleware(t *testing.T) {
	limiter := NewLoginRateLimiter(1, 1)
	handler := limiter.Middleware(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRecover(t *testing.T) {
	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)

	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "fallback", http.StatusInternalServerError)
	})
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recover(logger, fallback)(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "fallback")
	assert.Contains(t, logs.String(), "panic recovered")
}

func TestRequestLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)
	logger.SetFormatter(&logrus.JSONFormatter{})

	rec := httptest.NewRecorder()
	RequestLogger(logger)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	line := logs.String()
	assert.Contains(t, line, `"path":"/login"`)
	assert.Contains(t, line, `"status":200`)
	assert.Contains(t, line, `"bytes":2`)
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/login", okHandler)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/login", http.MethodGet, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("unmatched", http.MethodGet, "404")))
}
