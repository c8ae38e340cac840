package models

// ValidationErrors holds at most one message per form field.
// Empty fields are omitted when encoded, so `{"errors":{"email":"..."}}` is the
// whole body for a single failed field.
type ValidationErrors struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// Any reports whether at least one field has a message
func (e ValidationErrors) Any() bool {
	return e.Email != "" || e.Password != ""
}

// FirstInvalid returns the name of the first field carrying an error, checking
// email before password. Empty when there are no errors.
func (e ValidationErrors) FirstInvalid() string {
	switch {
	case e.Email != "":
		return "email"
	case e.Password != "":
		return "password"
	default:
		return ""
	}
}

// ActionData is the body of a rejected form submission
type ActionData struct {
	Errors ValidationErrors `json:"errors"`
}

// AuthPageData is passed to the login and join templates.
type AuthPageData struct {
	// Title is the page title displayed in the browser tab and page header
	Title string

	// Email repopulates the email input after a failed submit.
	// The password is never echoed back.
	Email string

	// RedirectTo is the value of the hidden redirectTo input
	RedirectTo string

	// ForwardRedirect is true when the request carried an explicit redirectTo,
	// in which case links to the sibling auth page forward it.
	ForwardRedirect bool

	Errors ValidationErrors
}
