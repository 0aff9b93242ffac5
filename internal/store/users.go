package store

import (
	"context"
	"fmt"
	"time"
)

// User is a registered account.
type User struct {
	UserID       string
	UserName     string
	UserEmail    string
	PasswordHash string
	PhoneNumber  string
	CreatedAt    time.Time
	IsActive     bool
	Timezone     string
}

// CreateUser inserts a user. A duplicate id or email yields ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO users (user_id, user_name, user_email, user_password_hash, ph_no, created_at, is_active, timezone)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.UserID, u.UserName, u.UserEmail, u.PasswordHash, u.PhoneNumber, u.CreatedAt, u.IsActive, u.Timezone)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
