package users

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
)

// ErrAdminTokenMismatch is returned when an admin signup carries a wrong token.
var ErrAdminTokenMismatch = errors.New("users: admin token mismatch")

// ValidationError reports field-level problems with a signup.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("users: invalid signup (%d fields)", len(e.Fields))
}

// Service handles account registration.
type Service struct {
	repo       Repository
	validate   *validator.Validate
	adminToken string
	hashCost   int
}

// NewService builds Service instance. An empty adminToken disables
// self-service admin registration.
func NewService(repo Repository, adminToken string) *Service {
	return &Service{
		repo:       repo,
		validate:   validator.New(),
		adminToken: adminToken,
		hashCost:   bcrypt.DefaultCost,
	}
}

// WithHashCost overrides the bcrypt cost, mainly for tests.
func (s *Service) WithHashCost(cost int) *Service {
	s.hashCost = cost
	return s
}

// Register validates input, hashes the password and stores the account.
func (s *Service) Register(ctx context.Context, in SignupInput) (*User, error) {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return nil, &ValidationError{Fields: fields}
		}
		return nil, err
	}
	if !PasswordFits(in.Password) {
		return nil, &ValidationError{Fields: map[string]string{"Password": "max"}}
	}

	role := roles.User
	if in.Admin {
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(in.AdminToken), []byte(s.adminToken)) != 1 {
			return nil, ErrAdminTokenMismatch
		}
		role = roles.Admin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	user := &User{
		Username:     NormalizeUsername(in.Username),
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns all accounts.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}
