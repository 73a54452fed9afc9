package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyFile is an io.Writer that appends to <folder>/<prefix>_YYYY-MM-DD.log
// and switches to a new file when the local date changes.
type DailyFile struct {
	now    func() time.Time
	file   *os.File
	folder string
	prefix string
	day    string
	mu     sync.Mutex
}

// NewDailyFile creates the folder if needed and opens the file for the current day.
func NewDailyFile(folder, prefix string) (*DailyFile, error) {
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log folder: %w", err)
	}

	d := &DailyFile{folder: folder, prefix: prefix, now: time.Now}
	if err := d.rotate(d.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}

	return d, nil
}

// Write implements io.Writer.
func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if day := d.now().Format(time.DateOnly); day != d.day {
		if err := d.rotate(day); err != nil {
			return 0, err
		}
	}

	return d.file.Write(p)
}

// Path returns the path of the file currently written to.
func (d *DailyFile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.path(d.day)
}

// Close closes the current file.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}

	err := d.file.Close()
	d.file = nil
	return err
}

func (d *DailyFile) path(day string) string {
	return filepath.Join(d.folder, d.prefix+"_"+day+".log")
}

// rotate must be called with mu held (or before the writer is shared).
func (d *DailyFile) rotate(day string) error {
	file, err := os.OpenFile(d.path(day), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if d.file != nil {
		_ = d.file.Close()
	}

	d.file = file
	d.day = day
	return nil
}
