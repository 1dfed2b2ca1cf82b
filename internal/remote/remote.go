// Package remote defines the boundary to the flat-namespace project store.
//
// The store addresses files by name only (no real directories), offers plain
// CRUD with last-write-wins semantics, and has no multi-file transactions.
// Concrete transports live behind the Client interface; this repo ships an
// in-memory store for tests (memstore) and a directory-backed store for
// local end-to-end use (dirstore).
package remote

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a project or file does not exist remotely.
var ErrNotFound = errors.New("remote file not found")

// File is a single remote file in its storage (wrapped) form.
type File struct {
	// Path is the flat remote name, e.g. "lib/util.gs" as a literal string.
	Path string
	// Content is the storage-form content.
	Content string
	// Hash is the git blob SHA-1 of Content.
	Hash string
}

// Client is the remote store abstraction. Every implementation must be safe
// for concurrent use; serialization of writes per project is the caller's
// responsibility (see lockmgr).
type Client interface {
	// ListFiles returns every file in the project.
	ListFiles(ctx context.Context, projectID string) ([]File, error)

	// GetFile fetches a single file, or ErrNotFound.
	GetFile(ctx context.Context, projectID, path string) (File, error)

	// CreateOrUpdateFile writes content to path, creating it if absent,
	// and returns the stored file with its new hash.
	CreateOrUpdateFile(ctx context.Context, projectID, path, content string) (File, error)

	// DeleteFile removes path. Deleting an absent file returns ErrNotFound.
	DeleteFile(ctx context.Context, projectID, path string) error
}
