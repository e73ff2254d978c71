package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

const uniqueViolation = "23505"

// Repository defines persistence operations for user accounts.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, user *User) error
	List(ctx context.Context) ([]User, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool  *pgxpool.Pool
	db    Querier
	audit *shared.AuditLogger
}

// NewRepository constructs a PostgreSQL repository. When audit is set,
// account creation and its audit record commit in one transaction.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger) *PGRepository {
	return &PGRepository{pool: pool, db: pool, audit: audit}
}

// FindByUsername fetches a user by normalized username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var (
		user      User
		authority string
	)
	err := r.db.QueryRow(ctx, `SELECT id, username, email, password_hash, authority, is_active, created_at, updated_at FROM users WHERE username = $1`, NormalizeUsername(username)).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &authority, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("users: find: %w: %w", shared.ErrUnavailable, err)
	}
	role, err := roles.FromAuthority(authority)
	if err != nil {
		return nil, fmt.Errorf("users: %s: %w", user.Username, err)
	}
	user.Role = role
	return &user, nil
}

// Create inserts user and fills its generated fields.
func (r *PGRepository) Create(ctx context.Context, user *User) error {
	var err error
	if r.pool == nil || r.audit == nil {
		err = r.insert(ctx, r.db, user)
	} else {
		err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
			if err := r.insert(ctx, tx, user); err != nil {
				return err
			}
			return r.audit.RecordWith(ctx, tx, shared.AuditLog{
				Actor:    user.Username,
				Action:   shared.AuditSignup,
				Entity:   "user",
				EntityID: strconv.FormatInt(user.ID, 10),
				Meta:     map[string]any{"authority": roles.AuthorityOf(user.Role)},
			})
		})
	}
	if err == nil || errors.Is(err, shared.ErrDuplicate) || errors.Is(err, shared.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("users: create: %w: %w", shared.ErrUnavailable, err)
}

func (r *PGRepository) insert(ctx context.Context, q Querier, user *User) error {
	user.Username = NormalizeUsername(user.Username)
	err := q.QueryRow(ctx, `INSERT INTO users (username, email, password_hash, authority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		user.Username, user.Email, user.PasswordHash, roles.AuthorityOf(user.Role), user.IsActive).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return shared.ErrDuplicate
		}
		return fmt.Errorf("users: insert: %w: %w", shared.ErrUnavailable, err)
	}
	return nil
}

// List returns all users ordered by id.
func (r *PGRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, username, email, authority, is_active, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w: %w", shared.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			user      User
			authority string
		)
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &authority, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		if user.Role, err = roles.FromAuthority(authority); err != nil {
			return nil, fmt.Errorf("users: %s: %w", user.Username, err)
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
