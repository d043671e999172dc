package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgForeignKeyViolation  = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL ledger store.
type Store struct {
	queries
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{queries: queries{q: db}, db: db}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &tx{queries: queries{q: sqlTx}}); err != nil {
		return mapError(err)
	}

	if err = sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// mapError turns lock conflicts reported by PostgreSQL into
// domain.ErrConcurrentConflict and dangling references into domain.ErrNotFound.
func mapError(err error) error {
	if errors.Is(err, domain.ErrConcurrentConflict) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", domain.ErrConcurrentConflict, pgErr.Message)
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
	}
	return err
}

type queries struct {
	q querier
}

type tx struct {
	queries
}

func (t *tx) LockPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return t.getPayment(ctx, id, true)
}

func (t *tx) LockCharge(ctx context.Context, id int64) (*domain.RentCharge, error) {
	return t.getCharge(ctx, id, true)
}

func placeholders(start, n int) (string, int) {
	s := ""
	for k := 0; k < n; k++ {
		if k > 0 {
			s += ", "
		}
		s += fmt.Sprintf("$%d", start+k)
	}
	return s, start + n
}
