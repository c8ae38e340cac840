package models

import "time"

// User is an account that can log in. The password hash lives in its own table
// and is never loaded into this struct.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
