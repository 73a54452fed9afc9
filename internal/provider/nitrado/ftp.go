package nitrado

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog/log"
)

// ignoredFolders are never downloaded or uploaded.
var ignoredFolders = []string{"Crashes", "CrashReportClient"}

// Transfer copies a game server file tree from and to its FTP account.
type Transfer interface {
	Download(ctx context.Context, creds Credentials, dstDir string) error
	Upload(ctx context.Context, creds Credentials, srcDir string) error
}

// FTPTransfer implements Transfer over plain FTP.
type FTPTransfer struct {
	Timeout time.Duration
}

func (t FTPTransfer) connect(ctx context.Context, creds Credentials) (*ftp.ServerConn, error) {
	port := int(creds.Port)
	if port == 0 {
		port = 21
	}

	conn, err := ftp.Dial(
		net.JoinHostPort(creds.Hostname, strconv.Itoa(port)),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(t.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ftp %s: %w", creds.Hostname, err)
	}

	if err := conn.Login(creds.Username, creds.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("failed to login to ftp %s: %w", creds.Hostname, err)
	}

	return conn, nil
}

// Download mirrors the FTP home folder into dstDir.
func (t FTPTransfer) Download(ctx context.Context, creds Credentials, dstDir string) error {
	conn, err := t.connect(ctx, creds)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	root, err := conn.CurrentDir()
	if err != nil {
		return fmt.Errorf("failed to read ftp home: %w", err)
	}

	walker := conn.Walk(root)
	for walker.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry := walker.Stat()
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), root), "/")
		if rel == "" {
			continue
		}

		if entry.Type == ftp.EntryTypeFolder {
			if slices.Contains(ignoredFolders, entry.Name) {
				walker.SkipDir()
			}
			continue
		}
		if entry.Type != ftp.EntryTypeFile {
			continue
		}

		if err := t.downloadFile(conn, walker.Path(), filepath.Join(dstDir, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}

	return walker.Err()
}

func (t FTPTransfer) downloadFile(conn *ftp.ServerConn, remote, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o750); err != nil {
		return err
	}

	resp, err := conn.Retr(remote)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remote, err)
	}
	defer func() { _ = resp.Close() }()

	out, err := os.Create(local)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to download %s: %w", remote, err)
	}

	log.Trace().Str("remote", remote).Str("local", local).Msg("Downloaded file")
	return out.Close()
}

// Upload copies srcDir into the FTP home folder, creating folders as needed.
func (t FTPTransfer) Upload(ctx context.Context, creds Credentials, srcDir string) error {
	conn, err := t.connect(ctx, creds)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	return filepath.WalkDir(srcDir, func(local string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, local)
		if err != nil || rel == "." {
			return err
		}
		remote := path.Clean(filepath.ToSlash(rel))

		if d.IsDir() {
			if slices.Contains(ignoredFolders, d.Name()) {
				return filepath.SkipDir
			}
			// MakeDir fails on existing folders
			_ = conn.MakeDir(remote)
			return nil
		}

		return t.uploadFile(conn, local, remote)
	})
}

func (t FTPTransfer) uploadFile(conn *ftp.ServerConn, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := conn.Stor(remote, f); err != nil {
		return fmt.Errorf("failed to upload %s: %w", remote, err)
	}

	log.Trace().Str("local", local).Str("remote", remote).Msg("Uploaded file")
	return nil
}
