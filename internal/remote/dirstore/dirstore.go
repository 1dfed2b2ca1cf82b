// Package dirstore implements remote.Client over a plain directory.
//
// Each project is one subdirectory; each remote file is a single flat entry
// whose name is the URL-escaped remote path, so "lib/util.gs" is stored as
// "lib%2Futil.gs" with no real directory hierarchy, matching the flat
// namespace of the real store. dirstore exists so flatsync can run fully
// locally (demos, integration tests) without a network transport.
package dirstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/remote"
)

// Store is a directory-backed remote store rooted at Root.
type Store struct {
	root string
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.root, url.PathEscape(projectID))
}

func (s *Store) filePath(projectID, path string) string {
	return filepath.Join(s.projectDir(projectID), url.PathEscape(path))
}

// ListFiles implements remote.Client.
func (s *Store) ListFiles(_ context.Context, projectID string) ([]remote.File, error) {
	entries, err := os.ReadDir(s.projectDir(projectID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("project %q: %w", projectID, remote.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list project %q: %w", projectID, err)
	}

	var files []remote.File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue // foreign file, not one of ours
		}
		// #nosec G304 - paths are confined to the store root
		content, err := os.ReadFile(filepath.Join(s.projectDir(projectID), entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, remote.File{
			Path:    path,
			Content: string(content),
			Hash:    blob.Hash(content),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// GetFile implements remote.Client.
func (s *Store) GetFile(_ context.Context, projectID, path string) (remote.File, error) {
	// #nosec G304 - paths are confined to the store root
	content, err := os.ReadFile(s.filePath(projectID, path))
	if os.IsNotExist(err) {
		return remote.File{}, fmt.Errorf("%s/%s: %w", projectID, path, remote.ErrNotFound)
	}
	if err != nil {
		return remote.File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return remote.File{Path: path, Content: string(content), Hash: blob.Hash(content)}, nil
}

// CreateOrUpdateFile implements remote.Client.
func (s *Store) CreateOrUpdateFile(_ context.Context, projectID, path, content string) (remote.File, error) {
	if err := os.MkdirAll(s.projectDir(projectID), 0o750); err != nil {
		return remote.File{}, fmt.Errorf("failed to create project dir: %w", err)
	}
	// #nosec G306 - store files mirror user content
	if err := os.WriteFile(s.filePath(projectID, path), []byte(content), 0o644); err != nil {
		return remote.File{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return remote.File{Path: path, Content: content, Hash: blob.HashString(content)}, nil
}

// DeleteFile implements remote.Client.
func (s *Store) DeleteFile(_ context.Context, projectID, path string) error {
	err := os.Remove(s.filePath(projectID, path))
	if os.IsNotExist(err) {
		return fmt.Errorf("%s/%s: %w", projectID, path, remote.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
