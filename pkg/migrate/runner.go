package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Runner applies the goose migrations in one directory against Postgres.
type Runner struct {
	db  *sql.DB
	dir string
}

func NewRunner(db *sql.DB, dir string) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if dir == "" {
		dir = DefaultDir
	}
	// partial indexes and jsonb columns make the schema postgres only
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	return &Runner{db: db, dir: dir}, nil
}

func (r *Runner) Up(ctx context.Context) error {
	if err := goose.UpContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back only the latest migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := goose.DownContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// Status prints the applied state of each migration to stdout.
func (r *Runner) Status(ctx context.Context) error {
	return goose.StatusContext(ctx, r.db, r.dir)
}

// To moves the schema up or down until target is the newest applied version.
func (r *Runner) To(ctx context.Context, target int64) error {
	current, err := goose.GetDBVersionContext(ctx, r.db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case target > current:
		err = goose.UpToContext(ctx, r.db, r.dir, target)
	case target < current:
		err = goose.DownToContext(ctx, r.db, r.dir, target)
	}
	if err != nil {
		return fmt.Errorf("migrate %d -> %d: %w", current, target, err)
	}
	return nil
}
