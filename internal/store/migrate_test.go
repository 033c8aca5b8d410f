package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Clark-Hu/movie-reviews/db"
)

type recordingExecer struct {
	statements []string
	failOn     string
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if r.failOn != "" && strings.Contains(sql, r.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	r.statements = append(r.statements, sql)
	return pgconn.CommandTag{}, nil
}

func TestApplyMigrationsOrdersUpFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_second.up.sql":  {Data: []byte("-- second")},
		"migrations/0001_first.up.sql":   {Data: []byte("-- first")},
		"migrations/0001_first.down.sql": {Data: []byte("-- down")},
		"migrations/README":              {Data: []byte("ignored")},
	}
	exec := &recordingExecer{}

	applied, err := ApplyMigrations(context.Background(), exec, fsys)
	if err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	want := []string{"migrations/0001_first.up.sql", "migrations/0002_second.up.sql"}
	if strings.Join(applied, ",") != strings.Join(want, ",") {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
	if len(exec.statements) != 2 || exec.statements[0] != "-- first" {
		t.Fatalf("statements = %v", exec.statements)
	}
}

func TestApplyMigrationsErrors(t *testing.T) {
	if _, err := ApplyMigrations(context.Background(), &recordingExecer{}, fstest.MapFS{}); err == nil {
		t.Fatalf("expected error for empty migration set")
	}

	fsys := fstest.MapFS{"migrations/0001_bad.up.sql": {Data: []byte("BROKEN")}}
	_, err := ApplyMigrations(context.Background(), &recordingExecer{failOn: "BROKEN"}, fsys)
	if err == nil || !strings.Contains(err.Error(), "0001_bad") {
		t.Fatalf("error = %v, want migration name", err)
	}
}

func TestEmbeddedSchemaIsPresent(t *testing.T) {
	exec := &recordingExecer{}
	applied, err := ApplyMigrations(context.Background(), exec, db.Migrations)
	if err != nil {
		t.Fatalf("ApplyMigrations(embedded): %v", err)
	}
	if len(applied) == 0 {
		t.Fatalf("no embedded migrations")
	}
	schema := strings.Join(exec.statements, "\n")
	for _, fragment := range []string{"reviews_movie_user_key UNIQUE (movie_id, user_id)", "average_rating"} {
		if !strings.Contains(schema, fragment) {
			t.Fatalf("schema missing %q", fragment)
		}
	}
}
