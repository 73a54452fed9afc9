package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/assets"
)

const migrationsDir = "migrations"

// migrationSource lists and reads migration files.
type migrationSource struct {
	readDir  func(string) ([]string, error)
	readFile func(string) ([]byte, error)
}

// embeddedMigrations reads the SQL files embedded in the assets package.
var embeddedMigrations = migrationSource{
	readDir: func(dir string) ([]string, error) {
		entries, err := assets.ReadDir(dir)
		if err != nil {
			return nil, err
		}

		var names []string
		for _, entry := range entries {
			if !entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		return names, nil
	},
	readFile: assets.ReadFile,
}

// runMigrations applies every migration not yet listed in schema_migrations, in file name order.
// It returns the number of applied files.
func runMigrations(ctx context.Context, db *sql.DB, src migrationSource) (int, error) {
	const migrationTableSchema = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME
	);`

	if _, err := db.ExecContext(ctx, migrationTableSchema); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}

	names, err := src.readDir(migrationsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations dir: %w", err)
	}

	files := slices.DeleteFunc(names, func(name string) bool {
		return !strings.HasSuffix(name, ".sql")
	})
	slices.Sort(files)

	applied := 0
	for _, file := range files {
		var exists int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM schema_migrations WHERE version = ?", file).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return applied, fmt.Errorf("failed to check migration status: %w", err)
		}

		log.Info().Str("file", file).Msg("Applying database migration...")

		content, err := src.readFile(path.Join(migrationsDir, file))
		if err != nil {
			return applied, fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if err := applyMigration(ctx, db, file, string(content)); err != nil {
			return applied, err
		}
		applied++
	}

	return applied, nil
}

// applyMigration executes one file and records it inside a single transaction.
func applyMigration(ctx context.Context, db *sql.DB, version, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, content); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to exec migration %s: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}

	return tx.Commit()
}
