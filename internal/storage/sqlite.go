// Package storage handles database connections, schema migrations, and data operations using SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/woozymasta/nidibot/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := runMigrations(ctx, db, embeddedMigrations); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// InsertBackup registers an archive in the catalog, replacing a record with the same
// provider, server and name. An empty ID is generated.
func (r *Repository) InsertBackup(ctx context.Context, b models.BackupRecord) (models.BackupRecord, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
	INSERT INTO backups (id, provider, game, server_id, name, path, size, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(provider, server_id, name) DO UPDATE SET
		game = excluded.game,
		path = excluded.path,
		size = excluded.size,
		created_at = excluded.created_at
	`, b.ID, b.Provider, b.Game, b.ServerID, b.Name, b.Path, b.Size, b.CreatedAt.UTC())
	if err != nil {
		return b, fmt.Errorf("failed to insert backup: %w", err)
	}

	return b, nil
}

// ListBackups returns the catalog entries of one server, most recent first.
func (r *Repository) ListBackups(ctx context.Context, provider, serverID string) ([]models.BackupRecord, error) {
	return r.queryBackups(ctx, `
		SELECT id, provider, game, server_id, name, path, size, created_at
		FROM backups
		WHERE provider = ? AND server_id = ?
		ORDER BY created_at DESC
	`, provider, serverID)
}

// AllBackups returns every catalog entry, most recent first.
func (r *Repository) AllBackups(ctx context.Context) ([]models.BackupRecord, error) {
	return r.queryBackups(ctx, `
		SELECT id, provider, game, server_id, name, path, size, created_at
		FROM backups
		ORDER BY created_at DESC
	`)
}

// GetBackup returns a catalog entry by provider, server and name.
func (r *Repository) GetBackup(ctx context.Context, provider, serverID, name string) (*models.BackupRecord, error) {
	backups, err := r.queryBackups(ctx, `
		SELECT id, provider, game, server_id, name, path, size, created_at
		FROM backups
		WHERE provider = ? AND server_id = ? AND name = ?
	`, provider, serverID, name)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, ErrNotFound
	}

	return &backups[0], nil
}

// DeleteBackup removes a catalog entry by id.
func (r *Repository) DeleteBackup(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) queryBackups(ctx context.Context, query string, args ...any) ([]models.BackupRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var backups []models.BackupRecord
	for rows.Next() {
		var b models.BackupRecord
		if err := rows.Scan(&b.ID, &b.Provider, &b.Game, &b.ServerID, &b.Name, &b.Path, &b.Size, &b.CreatedAt); err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return backups, nil
}

// InsertCommand journals one dispatched command. Empty ID and zero time are filled in.
func (r *Repository) InsertCommand(ctx context.Context, c models.CommandRecord) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
	INSERT INTO commands (id, bot, user_id, channel_id, command, server, backup, outcome, message, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Bot, c.UserID, c.ChannelID, c.Command, c.Server, c.Backup, c.Outcome, c.Message, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}

	return nil
}

// RecentCommands returns up to limit journal entries, newest first.
func (r *Repository) RecentCommands(ctx context.Context, limit int) ([]models.CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, bot, user_id, channel_id, command, server, backup, outcome, message, created_at
		FROM commands
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var commands []models.CommandRecord
	for rows.Next() {
		var c models.CommandRecord
		if err := rows.Scan(
			&c.ID, &c.Bot, &c.UserID, &c.ChannelID, &c.Command,
			&c.Server, &c.Backup, &c.Outcome, &c.Message, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return commands, nil
}
