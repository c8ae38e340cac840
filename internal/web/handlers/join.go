package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shindakun/arclogin/internal/auth"
	"github.com/shindakun/arclogin/internal/models"
)

// JoinForm is a sign-up submission
type JoinForm struct {
	Email      string `validate:"required,email"`
	Password   string `validate:"required,min=8"`
	RedirectTo string
}

// bcrypt rejects passwords longer than this many bytes
const maxPasswordBytes = 72

var joinValidator = validator.New(validator.WithRequiredStructEnabled())

// validateJoinForm returns one message per invalid field
func validateJoinForm(form JoinForm) models.ValidationErrors {
	var errs models.ValidationErrors

	// validator's max counts runes, the bcrypt limit is in bytes
	if len(form.Password) > maxPasswordBytes {
		errs.Password = "Password is too long"
	}

	err := joinValidator.Struct(form)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs
	}

	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "Email":
			errs.Email = "Email is invalid"
		case "Password":
			switch fe.Tag() {
			case "required":
				errs.Password = msgPasswordRequired
			case "min":
				errs.Password = "Password is too short"
			}
		}
	}
	return errs
}

// safeRedirect only allows local absolute paths
func safeRedirect(to string) string {
	if !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") || strings.HasPrefix(to, "/\\") {
		return defaultRedirect
	}
	return to
}

// JoinPage renders the sign-up form
func (h *Handlers) JoinPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.sessions.GetUserID(r); ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	h.render(w, r, http.StatusOK, "join", TemplateData{
		Title: "Sign Up",
		Auth:  h.authPageData(r, "", models.ValidationErrors{}),
	})
}

// Join creates an account and logs the new user in
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	if err := parseBody(r); err != nil {
		h.logger.WithError(err).Info("failed to parse join form")
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	form := JoinForm{
		Email:      strings.TrimSpace(r.PostForm.Get("email")),
		Password:   r.PostForm.Get("password"),
		RedirectTo: r.PostForm.Get("redirectTo"),
	}

	if errs := validateJoinForm(form); errs.Any() {
		h.signup("invalid")
		h.rejectForm(w, r, "join", "Sign Up", form.Email, errs)
		return
	}

	user, err := h.users.CreateUser(r.Context(), form.Email, form.Password)
	if errors.Is(err, auth.ErrUserExists) {
		h.signup("exists")
		h.rejectForm(w, r, "join", "Sign Up", form.Email, models.ValidationErrors{
			Email: "A user already exists with this email",
		})
		return
	}
	if err != nil {
		h.signup("error")
		h.logger.WithError(err).Error("failed to create user")
		h.InternalError(w, r)
		return
	}

	if err := h.sessions.CreateUserSession(w, r, user.ID, safeRedirect(form.RedirectTo)); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Error("failed to create session")
		h.InternalError(w, r)
		return
	}

	h.signup("success")
	h.logger.WithField("user_id", user.ID).Info("user joined")
}

func (h *Handlers) signup(result string) {
	if h.metrics != nil {
		h.metrics.Signups.WithLabelValues(result).Inc()
	}
}
