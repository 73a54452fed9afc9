package provider

import (
	"slices"
	"strings"
	"time"
)

const (
	backupNameLayout    = "20060102_150405"
	backupDisplayLayout = "2006-01-02 15:04:05"
)

// Backup describes one stored backup artifact.
type Backup struct {
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Location    string    `json:"location,omitempty"`
	Size        int64     `json:"size"`
}

// Matches reports whether name refers to this backup by name or display name.
func (b Backup) Matches(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && (name == b.Name || name == b.DisplayName)
}

// FormatBackupName returns the stored name for a backup taken at t.
func FormatBackupName(t time.Time) string {
	return t.Format(backupNameLayout)
}

// ParseBackupName parses a YYYYMMDD_HHMMSS name, ignoring any extension and
// leading prefix separated by an underscore.
func ParseBackupName(name string) (time.Time, bool) {
	base, _, _ := strings.Cut(name, ".")
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return time.Time{}, false
	}

	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]
	t, err := time.ParseInLocation(backupNameLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// NewBackup builds a descriptor from a stored name.
func NewBackup(name, location string, size int64) (Backup, bool) {
	created, ok := ParseBackupName(name)
	if !ok {
		return Backup{}, false
	}

	base, _, _ := strings.Cut(name, ".")
	return Backup{
		Name:        base,
		DisplayName: created.Format(backupDisplayLayout),
		CreatedAt:   created,
		Location:    location,
		Size:        size,
	}, true
}

// SortBackups orders backups most recent first.
func SortBackups(backups []Backup) {
	slices.SortStableFunc(backups, func(a, b Backup) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// FindBackup returns the backup matching name.
func FindBackup(backups []Backup, name string) (Backup, bool) {
	for _, b := range backups {
		if b.Matches(name) {
			return b, true
		}
	}

	return Backup{}, false
}
