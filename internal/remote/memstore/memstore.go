// Package memstore provides an in-memory remote.Client for tests.
//
// Besides plain CRUD it supports failure injection (fail the Nth write, fail
// writes to a specific path) and call counting, so orchestrator and executor
// error paths can be exercised deterministically.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/remote"
)

// Store is an in-memory flat file store keyed by project then path.
type Store struct {
	mu       sync.Mutex
	projects map[string]map[string]string

	// FailWritesTo makes CreateOrUpdateFile and DeleteFile fail for the
	// given paths.
	failPaths map[string]error

	calls map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		projects:  make(map[string]map[string]string),
		failPaths: make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Seed replaces the contents of projectID with the given path → storage-form
// content map.
func (s *Store) Seed(projectID string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj := make(map[string]string, len(files))
	for path, content := range files {
		proj[path] = content
	}
	s.projects[projectID] = proj
}

// FailWritesTo injects err for any write or delete touching path.
func (s *Store) FailWritesTo(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[path] = err
}

// Calls returns how many times the named method ran.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Contents returns a copy of the project's path → content map.
func (s *Store) Contents(projectID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	for path, content := range s.projects[projectID] {
		out[path] = content
	}
	return out
}

// ListFiles implements remote.Client.
func (s *Store) ListFiles(_ context.Context, projectID string) ([]remote.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListFiles"]++

	proj, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", projectID, remote.ErrNotFound)
	}

	paths := make([]string, 0, len(proj))
	for path := range proj {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	files := make([]remote.File, 0, len(paths))
	for _, path := range paths {
		content := proj[path]
		files = append(files, remote.File{
			Path:    path,
			Content: content,
			Hash:    blob.HashString(content),
		})
	}
	return files, nil
}

// GetFile implements remote.Client.
func (s *Store) GetFile(_ context.Context, projectID, path string) (remote.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetFile"]++

	content, ok := s.projects[projectID][path]
	if !ok {
		return remote.File{}, fmt.Errorf("%s/%s: %w", projectID, path, remote.ErrNotFound)
	}
	return remote.File{Path: path, Content: content, Hash: blob.HashString(content)}, nil
}

// CreateOrUpdateFile implements remote.Client.
func (s *Store) CreateOrUpdateFile(_ context.Context, projectID, path, content string) (remote.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["CreateOrUpdateFile"]++

	if err, ok := s.failPaths[path]; ok {
		return remote.File{}, err
	}

	proj, ok := s.projects[projectID]
	if !ok {
		proj = make(map[string]string)
		s.projects[projectID] = proj
	}
	proj[path] = content
	return remote.File{Path: path, Content: content, Hash: blob.HashString(content)}, nil
}

// DeleteFile implements remote.Client.
func (s *Store) DeleteFile(_ context.Context, projectID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["DeleteFile"]++

	if err, ok := s.failPaths[path]; ok {
		return err
	}

	proj := s.projects[projectID]
	if _, ok := proj[path]; !ok {
		return fmt.Errorf("%s/%s: %w", projectID, path, remote.ErrNotFound)
	}
	delete(proj, path)
	return nil
}
