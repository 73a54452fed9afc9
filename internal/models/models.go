// Package models defines the records persisted in the database and served by the HTTP API.
package models

import "time"

// BackupRecord is one archive registered in the backup catalog.
type BackupRecord struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Game      string    `json:"game"`
	ServerID  string    `json:"server_id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
}

// CommandRecord is one journaled chat command and its outcome.
type CommandRecord struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	Bot       string    `json:"bot"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	Command   string    `json:"command"`
	Server    string    `json:"server,omitempty"`
	Backup    string    `json:"backup,omitempty"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
}
