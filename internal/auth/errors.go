package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserExists is returned by CreateUser when the email is taken
	ErrUserExists = errors.New("user already exists")

	// ErrNoSession means the request carries no usable login session
	ErrNoSession = errors.New("no session")
)
