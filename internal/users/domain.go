package users

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
)

// User is a stored account record.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         roles.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MaxPasswordBytes is bcrypt's input limit. The validator's max tag counts
// runes, so the byte length is checked separately.
const MaxPasswordBytes = 72

// PasswordFits reports whether password can be hashed by bcrypt.
func PasswordFits(password string) bool {
	return len(password) <= MaxPasswordBytes
}

// SignupInput carries a registration request.
type SignupInput struct {
	Username   string `validate:"required,min=3,max=64"`
	Password   string `validate:"required,min=8,max=72"`
	Email      string `validate:"required,email"`
	Admin      bool
	AdminToken string
}

var folder = cases.Fold()

// NormalizeUsername maps visually equivalent usernames to one key so
// "Alice" and "ａｌｉｃｅ" cannot be registered as distinct accounts.
func NormalizeUsername(username string) string {
	return folder.String(norm.NFKC.String(strings.TrimSpace(username)))
}
