// Package vars holds build metadata set through -ldflags "-X".
package vars

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// License of the project.
	License = "MIT"

	// URL of the source repository.
	URL = "https://github.com/woozymasta/nidibot"

	shortCommitLen = 7
)

// Values overridden at link time.
var (
	Name      = "Nidibot"
	Version   = "dev"
	Commit    = "unknown"
	Revision  = 0
	BuildTime = time.Unix(0, 0).UTC()

	_revision  string
	_buildTime string
)

// BuildInfo is served by the health endpoint.
type BuildInfo struct {
	BuildTime   time.Time `json:"build_time"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	CommitShort string    `json:"commit_short"`
	Revision    int       `json:"revision,omitempty"`
}

func init() {
	if n, err := strconv.Atoi(_revision); err == nil {
		Revision = n
	}
	if t, err := time.Parse(time.RFC3339, _buildTime); err == nil {
		BuildTime = t.UTC()
	}
}

// Info returns the build metadata.
func Info() BuildInfo {
	return BuildInfo{
		Name:        Name,
		Version:     Version,
		Commit:      Commit,
		CommitShort: CommitShort(),
		Revision:    Revision,
		BuildTime:   BuildTime,
	}
}

// Print writes the build metadata for the --version flag.
func Print() {
	rows := [][2]string{
		{"name", Name},
		{"version", Version},
		{"commit", Commit},
		{"revision", strconv.Itoa(Revision)},
		{"built", BuildTime.Format(time.RFC3339)},
		{"binary", os.Args[0]},
		{"license", License},
		{"source", URL},
	}
	for _, r := range rows {
		fmt.Printf("%-9s %s\n", r[0]+":", r[1])
	}
}

// UserAgent is sent with outgoing API and download requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (+%s)", Name, Version, URL)
}

// CommitShort returns the abbreviated commit hash.
func CommitShort() string {
	if len(Commit) > shortCommitLen {
		return Commit[:shortCommitLen]
	}
	return Commit
}
