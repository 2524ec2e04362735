package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const bcryptCost = 10

var (
	// ErrEmailTaken indicates a registration against an email that already has an account.
	ErrEmailTaken = errors.New("users: email already in use")
	// ErrInvalidCredentials indicates an unknown email or a password mismatch.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidInput indicates missing or malformed registration fields.
	ErrInvalidInput = errors.New("users: invalid input")

	errMissingDatabase = errors.New("users: database connection required")
)

const (
	maxNameLength     = 100
	minPasswordLength = 8
	maxPasswordLength = 100
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service manages account registration and credential verification.
type Service struct {
	db *gorm.DB
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	return &Service{db: cfg.Database}, nil
}

// Register creates a new account and returns it.
func (s *Service) Register(ctx context.Context, name, email, password string) (User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if err := validateRegistration(name, email, password); err != nil {
		return User{}, err
	}

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return User{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return User{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, err
	}

	account := User{
		ID:           id.String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return User{}, err
	}
	return account, nil
}

// Authenticate verifies the email/password pair and returns the matching account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)

	var account User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return account, nil
}

func validateRegistration(name, email, password string) error {
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: name", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password length", ErrInvalidInput)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
