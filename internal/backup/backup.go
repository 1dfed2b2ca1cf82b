// Package backup snapshots mirror files before a sync overwrites or
// deletes them, so a bad pull is recoverable by hand.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/localfs"
	"github.com/flatsync/flatsync/internal/util"
)

// Metadata describes one file captured in a snapshot
type Metadata struct {
	Path    string    `json:"path"`    // remote path, slash-separated
	Hash    string    `json:"hash"`    // git-blob SHA-1 of the saved content
	Size    int64     `json:"size"`    // file size in bytes
	SavedAt time.Time `json:"saved_at"`
}

// Index is the per-snapshot metadata document
type Index struct {
	Version   string     `json:"version"`
	Project   string     `json:"project"`
	CreatedAt time.Time  `json:"created_at"`
	Files     []Metadata `json:"files"`
}

const (
	// IndexVersion is the current version of the snapshot index format
	IndexVersion = "1.0"
	// IndexFilename is the name of the index file inside each snapshot
	IndexFilename = "index.json"
)

// Archiver writes timestamped snapshots for one project.
type Archiver struct {
	project string
	baseDir string
}

// New creates an Archiver storing snapshots under
// ~/.flatsync/backups/<project>/<timestamp>/.
func New(project string) *Archiver {
	return &Archiver{
		project: project,
		baseDir: filepath.Join(util.FlatsyncBackupPath(), project),
	}
}

// NewAt creates an Archiver with an explicit base directory, for tests.
func NewAt(project, baseDir string) *Archiver {
	return &Archiver{project: project, baseDir: baseDir}
}

// Snapshot copies the given mirror files into a fresh timestamped snapshot
// directory and writes its metadata index. It returns the snapshot
// directory path. Paths that vanished since planning are skipped.
func (a *Archiver) Snapshot(mirror *localfs.Mirror, paths []string) (string, error) {
	stamp := time.Now().UTC().Format("20060102-150405.000000")
	dir := filepath.Join(a.baseDir, stamp)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	index := Index{
		Version:   IndexVersion,
		Project:   a.project,
		CreatedAt: time.Now(),
	}

	for _, path := range paths {
		content, err := mirror.Read(path)
		if err != nil {
			continue // gone since planning
		}

		dest := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return "", fmt.Errorf("failed to create snapshot subdirectory: %w", err)
		}
		// #nosec G306 - snapshots mirror user content
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", path, err)
		}

		index.Files = append(index.Files, Metadata{
			Path:    path,
			Hash:    blob.HashString(content),
			Size:    int64(len(content)),
			SavedAt: time.Now(),
		})
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot index: %w", err)
	}
	// #nosec G306 - index describes user content
	if err := os.WriteFile(filepath.Join(dir, IndexFilename), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot index: %w", err)
	}

	return dir, nil
}

// Prune removes snapshots older than the retention window. It returns the
// number of snapshots removed.
func (a *Archiver) Prune(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(a.baseDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(a.baseDir, entry.Name())); err != nil {
				return removed, fmt.Errorf("failed to prune snapshot %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
