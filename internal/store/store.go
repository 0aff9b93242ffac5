package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"
)

// Store is the Postgres persistence layer for turns, session summaries and users.
type Store struct {
	DB     *sql.DB
	logger *log.Logger
}

// DefaultEmbeddingDimensions indicates the expected length of session summary vectors.
const DefaultEmbeddingDimensions = 1536

// ErrUserExists indicates a user with the same id or email is already registered.
var ErrUserExists = errors.New("user already exists with this ID or email")

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{DB: db, logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags)}
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return fn(tx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
