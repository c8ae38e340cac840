package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/shindakun/arclogin/internal/models"
	"github.com/shindakun/arclogin/internal/storage"
)

// UserService checks credentials and registers users
type UserService struct {
	db   *sql.DB
	cost int

	// compared against when the email is unknown so both failure paths cost a bcrypt round
	dummyHash []byte
}

// NewUserService returns a UserService hashing with the given bcrypt cost.
// A cost of zero means bcrypt.DefaultCost.
func NewUserService(db *sql.DB, cost int) (*UserService, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("arclogin-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare password hasher: %w", err)
	}
	return &UserService{db: db, cost: cost, dummyHash: dummy}, nil
}

// VerifyLogin returns the user whose email and password match.
// Unknown email and wrong password both return ErrInvalidCredentials.
func (s *UserService) VerifyLogin(ctx context.Context, email, password string) (*models.User, error) {
	user, err := storage.GetUserByEmail(ctx, s.db, email)
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	hash, err := storage.GetPasswordHash(ctx, s.db, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to compare password: %w", err)
	}

	return user, nil
}

// CreateUser registers a new user with a bcrypt-hashed password
func (s *UserService) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:    uuid.New().String(),
		Email: email,
	}
	if err := storage.CreateUser(ctx, s.db, user, string(hash)); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID loads a user by primary key
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return storage.GetUserByID(ctx, s.db, id)
}
