package handlers

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/munnerz/goautoneg"
	"github.com/sirupsen/logrus"

	"github.com/shindakun/arclogin/internal/auth"
	"github.com/shindakun/arclogin/internal/metrics"
	"github.com/shindakun/arclogin/internal/models"
)

const (
	msgEmailRequired    = "Email is required"
	msgPasswordRequired = "Password is required"
	msgInvalidLogin     = "Invalid email or password"

	defaultRedirect = "/"

	// multipart bodies above this spill to temp files
	maxFormMemory = 1 << 20
)

// LoginForm is a parsed login submission
type LoginForm struct {
	Email      string
	Password   string
	RedirectTo string
}

// MissingFieldError reports a form field that was not submitted as a string value
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "missing form field " + e.Field
}

// ValidationErrors maps the missing field to its user-facing message
func (e *MissingFieldError) ValidationErrors() models.ValidationErrors {
	switch e.Field {
	case "password":
		return models.ValidationErrors{Password: msgPasswordRequired}
	default:
		return models.ValidationErrors{Email: msgEmailRequired}
	}
}

// ParseLoginForm extracts the login fields from a submitted body. Email is
// checked before password; on a *MissingFieldError the returned form holds
// whatever was read before the missing field.
func ParseLoginForm(values url.Values) (LoginForm, error) {
	var form LoginForm

	email, ok := formString(values, "email")
	if !ok {
		return form, &MissingFieldError{Field: "email"}
	}
	form.Email = email

	password, ok := formString(values, "password")
	if !ok {
		return form, &MissingFieldError{Field: "password"}
	}
	form.Password = password

	form.RedirectTo = defaultRedirect
	if redirectTo, ok := formString(values, "redirectTo"); ok && redirectTo != "" {
		form.RedirectTo = redirectTo
	}

	return form, nil
}

// formString returns the first value submitted for key. An empty string is
// still a present value.
func formString(values url.Values, key string) (string, bool) {
	v, ok := values[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// parseBody fills r.PostForm from a urlencoded or multipart body. File parts
// never appear in PostForm, so a file upload named "email" counts as missing.
func parseBody(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxFormMemory)
	}
	return r.ParseForm()
}

// redirectTarget reads the redirectTo query parameter. explicit is false when
// the parameter was absent and the default was used.
func redirectTarget(r *http.Request) (target string, explicit bool) {
	target = r.URL.Query().Get("redirectTo")
	if target == "" {
		return defaultRedirect, false
	}
	return target, true
}

func (h *Handlers) authPageData(r *http.Request, email string, errs models.ValidationErrors) models.AuthPageData {
	target, explicit := redirectTarget(r)
	return models.AuthPageData{
		Email:           email,
		RedirectTo:      target,
		ForwardRedirect: explicit,
		Errors:          errs,
	}
}

// LoginPage is the loader for GET /login: logged-in users go straight home,
// everyone else gets the form.
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.sessions.GetUserID(r); ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	h.render(w, r, http.StatusOK, "login", TemplateData{
		Title: "Login",
		Auth:  h.authPageData(r, "", models.ValidationErrors{}),
	})
}

// Login is the action for POST /login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := parseBody(r); err != nil {
		h.logger.WithError(err).Info("failed to parse login form")
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	form, err := ParseLoginForm(r.PostForm)
	var missing *MissingFieldError
	if errors.As(err, &missing) {
		h.loginAttempt(metrics.LoginMissingField)
		h.rejectForm(w, r, "login", "Login", form.Email, missing.ValidationErrors())
		return
	}

	user, err := h.users.VerifyLogin(r.Context(), form.Email, form.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.loginAttempt(metrics.LoginInvalid)
		h.logger.WithField("email_domain", emailDomain(form.Email)).Info("login rejected")
		h.rejectForm(w, r, "login", "Login", form.Email, models.ValidationErrors{Email: msgInvalidLogin})
		return
	}
	if err != nil {
		h.loginAttempt(metrics.LoginError)
		h.logger.WithError(err).Error("failed to verify login")
		h.InternalError(w, r)
		return
	}

	if err := h.sessions.CreateUserSession(w, r, user.ID, defaultRedirect); err != nil {
		h.loginAttempt(metrics.LoginError)
		h.logger.WithError(err).WithField("user_id", user.ID).Error("failed to create session")
		h.InternalError(w, r)
		return
	}

	h.loginAttempt(metrics.LoginSuccess)
	h.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
	}).Info("user logged in")
}

func (h *Handlers) loginAttempt(result string) {
	if h.metrics != nil {
		h.metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}

// rejectForm answers a failed form submission with status 400, as JSON when
// the client prefers it and as the re-rendered page otherwise
func (h *Handlers) rejectForm(w http.ResponseWriter, r *http.Request, page, title, email string, errs models.ValidationErrors) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusBadRequest, models.ActionData{Errors: errs})
		return
	}

	h.render(w, r, http.StatusBadRequest, page, TemplateData{
		Title: title,
		Auth:  h.authPageData(r, email, errs),
	})
}

// wantsJSON reports whether the Accept header ranks JSON above HTML
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	return goautoneg.Negotiate(accept, []string{"text/html", "application/json"}) == "application/json"
}

// emailDomain keeps log lines free of full addresses
func emailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "-"
}
