package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/repository"
)

var _ repository.UserRepository = (*Users)(nil)

// Users is the user directory table.
type Users struct {
	conn *sql.DB
}

// Users returns the user repository backed by db.
func (db *DB) Users() *Users {
	return &Users{conn: db.conn}
}

// Create inserts a user. ID and PublicID are set by the caller; CreatedAt
// is stamped here when zero.
//
// The UNIQUE constraint on username is the source of truth for conflicts,
// so two concurrent registrations of the same name cannot both succeed.
func (r *Users) Create(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO users (id, public_id, username, name, email, title, avatar, password_hash, is_moderator, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.PublicID,
		user.Username,
		user.Name,
		user.Email,
		user.Title,
		user.Avatar,
		user.PasswordHash,
		user.IsModerator,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: creating user %s: %w", user.Username, err)
	}

	return nil
}

// GetByUsername retrieves a user by username.
// Returns apperror.ErrNotFound if no user has that name.
func (r *Users) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User

	err := r.conn.QueryRowContext(ctx,
		`SELECT id, public_id, username, name, email, title, avatar, password_hash, is_moderator, created_at
		 FROM users WHERE username = ?`,
		username,
	).Scan(
		&u.ID,
		&u.PublicID,
		&u.Username,
		&u.Name,
		&u.Email,
		&u.Title,
		&u.Avatar,
		&u.PasswordHash,
		&u.IsModerator,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", username, err)
	}

	return &u, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
