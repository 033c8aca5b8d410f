package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Execer is the subset of pgx used to apply schema files.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ApplyMigrations executes every migrations/*_*.up.sql file in fsys in lexical
// order. The schema files are written to be re-runnable.
func ApplyMigrations(ctx context.Context, db Execer, fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "migrations/*_*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found")
	}
	sort.Strings(files)
	for _, path := range files {
		payload, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}
		if _, err := db.Exec(ctx, string(payload)); err != nil {
			return nil, fmt.Errorf("apply migration %s: %w", path, err)
		}
	}
	return files, nil
}

// Migrate applies the schema in fsys to the store's database.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) error {
	applied, err := ApplyMigrations(ctx, s.pool, fsys)
	if err != nil {
		return err
	}
	s.logger.Info("store: migrations applied", zap.Strings("files", applied))
	return nil
}
