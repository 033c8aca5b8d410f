package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
	"github.com/Clark-Hu/movie-reviews/internal/store"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx opens
// a savepoint.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository aggregates all domain-specific repositories.
type Repository struct {
	db      DBTX
	Movies  *MoviesRepository
	Users   *UsersRepository
	Reviews *ReviewsRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return newWithDB(pool)
}

func newWithDB(db DBTX) *Repository {
	return &Repository{
		db:      db,
		Movies:  &MoviesRepository{db: db},
		Users:   &UsersRepository{db: db},
		Reviews: &ReviewsRepository{db: db},
	}
}

// InTx runs fn with repositories bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(newWithDB(tx))
	})
}

// ReviewStore adapts the repository to the reviews.Store unit-of-work contract.
func (r *Repository) ReviewStore() reviews.Store {
	return reviewStore{repo: r}
}

type reviewStore struct {
	repo *Repository
}

func (s reviewStore) View(ctx context.Context, fn func(q reviews.Queries) error) error {
	return fn(s.repo.Reviews)
}

func (s reviewStore) InTx(ctx context.Context, fn func(q reviews.Queries) error) error {
	return s.repo.InTx(ctx, func(tx *Repository) error {
		return fn(tx.Reviews)
	})
}

// Postgres error codes the repositories translate.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidTextRep      = "22P02"
)

// mapError translates driver errors into domain sentinels. Malformed ids are
// reported as not found since no row can carry them.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
		case codeInvalidTextRep:
			return domain.ErrNotFound
		}
	}
	return err
}
