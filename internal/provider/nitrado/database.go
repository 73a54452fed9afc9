package nitrado

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// mysqlFolder is the archive folder holding database dumps.
const mysqlFolder = "mysql"

// ErrToolMissing is returned when a database client binary is not on PATH.
var ErrToolMissing = errors.New("database tool not installed")

// Database dumps and loads the MySQL database of a game server.
type Database interface {
	Dump(ctx context.Context, db MySQL, dst string) error
	Load(ctx context.Context, db MySQL, src string) error
}

// MySQLTools implements Database with the mysqldump and mysql clients.
type MySQLTools struct{}

// Dump writes the database to dst with mysqldump.
func (MySQLTools) Dump(ctx context.Context, db MySQL, dst string) error {
	bin, err := exec.LookPath("mysqldump")
	if err != nil {
		return fmt.Errorf("%w: mysqldump", ErrToolMissing)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer func() { _ = out.Close() }()

	cmd := exec.CommandContext(ctx, bin, mysqlArgs(db)...)
	cmd.Stdout = out
	return run(cmd, db)
}

// Load feeds src into the database with the mysql client.
func (MySQLTools) Load(ctx context.Context, db MySQL, src string) error {
	bin, err := exec.LookPath("mysql")
	if err != nil {
		return fmt.Errorf("%w: mysql", ErrToolMissing)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open dump file: %w", err)
	}
	defer func() { _ = in.Close() }()

	cmd := exec.CommandContext(ctx, bin, mysqlArgs(db)...)
	cmd.Stdin = in
	return run(cmd, db)
}

// mysqlArgs are shared by both clients. The password goes through MYSQL_PWD.
func mysqlArgs(db MySQL) []string {
	port := int(db.Port)
	if port == 0 {
		port = 3306
	}

	return []string{
		"--host=" + db.Hostname,
		"--port=" + strconv.Itoa(port),
		"--user=" + db.Username,
		db.Database,
	}
}

func run(cmd *exec.Cmd, db MySQL) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+db.Password)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(cmd.Path), err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

// dumpPath is where the dump of db lives inside an archive root.
func dumpPath(root string, db MySQL) string {
	return filepath.Join(root, mysqlFolder, db.Database+".sql")
}

// dumpDatabase adds the database to a backup. Failures only warn, the file tree is still archived.
func (p *Provider) dumpDatabase(ctx context.Context, serverID string, db MySQL, root string) {
	if db.Database == "" {
		return
	}

	dst := dumpPath(root, db)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		log.Warn().Err(err).Str("server", serverID).Msg("Failed to create database dump folder")
		return
	}

	if err := p.database.Dump(ctx, db, dst); err != nil {
		_ = os.Remove(dst)
		log.Warn().Err(err).Str("provider", p.name).Str("server", serverID).Msg("Database not included in backup")
		return
	}

	log.Debug().Str("server", serverID).Str("database", db.Database).Msg("Database dumped")
}

// loadDatabase restores the database from an extracted archive when it carries a dump.
func (p *Provider) loadDatabase(ctx context.Context, serverID string, db MySQL, root string) {
	if db.Database == "" {
		return
	}

	src := dumpPath(root, db)
	if _, err := os.Stat(src); err != nil {
		log.Warn().Str("server", serverID).Str("database", db.Database).Msg("No database dump in backup, nothing to restore")
		return
	}

	if err := p.database.Load(ctx, db, src); err != nil {
		log.Warn().Err(err).Str("provider", p.name).Str("server", serverID).Msg("Failed to restore database")
		return
	}

	log.Debug().Str("server", serverID).Str("database", db.Database).Msg("Database restored")
}
