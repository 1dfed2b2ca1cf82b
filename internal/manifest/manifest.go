// Package manifest persists the sync baseline for a mirror root.
//
// The manifest records, per remote path, the git-blob hash of the content
// last known to be identical on both sides and when it was synced. The
// planner diffs local and remote trees against this baseline to tell one
// side's edits from the other's. It is only ever written after a fully
// successful apply, so a crash or partial failure leaves the last
// known-good baseline intact rather than an inconsistent mix.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flatsync/flatsync/internal/util"
)

const (
	// Version is the current manifest format version.
	Version = "1.0"
	// Filename is the manifest file name under the mirror state directory.
	Filename = "manifest.json"
)

// Entry is the baseline for one remote path.
type Entry struct {
	// Hash is the git-blob SHA-1 of the storage-form content at last sync.
	Hash string `json:"hash"`
	// SyncedAt is when the entry was last confirmed synced.
	SyncedAt time.Time `json:"synced_at"`
}

// Manifest is the persisted baseline, one document per mirror root.
type Manifest struct {
	Version string           `json:"version"`
	Project string           `json:"project,omitempty"`
	Updated time.Time        `json:"updated"`
	Entries map[string]Entry `json:"entries"`

	path string
}

// Load reads the manifest for the given mirror root, returning an empty
// manifest when none exists yet. A corrupted or version-mismatched file is
// discarded and replaced on the next save.
func Load(root string) (*Manifest, error) {
	path := filepath.Join(util.MirrorStatePath(root), Filename)
	m := &Manifest{
		Version: Version,
		Entries: make(map[string]Entry),
		path:    path,
	}

	// #nosec G304 - path is derived from the resolved mirror root
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := json.Unmarshal(data, m); err != nil {
		// Corrupted manifest, start from an empty baseline.
		m.Entries = make(map[string]Entry)
		m.Version = Version
	}
	if m.Version != Version {
		m.Entries = make(map[string]Entry)
		m.Version = Version
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}
	m.path = path
	return m, nil
}

// Save persists the manifest atomically (write to a temp file, then
// rename), so a crash mid-save cannot leave a torn baseline.
func (m *Manifest) Save() error {
	m.Updated = time.Now()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, Filename+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Hash returns the baseline hash for path, if present.
func (m *Manifest) Hash(path string) (string, bool) {
	entry, ok := m.Entries[path]
	if !ok {
		return "", false
	}
	return entry.Hash, true
}

// Set records a new baseline hash for path.
func (m *Manifest) Set(path, hash string) {
	m.Entries[path] = Entry{Hash: hash, SyncedAt: time.Now()}
}

// Remove drops the baseline entry for path.
func (m *Manifest) Remove(path string) {
	delete(m.Entries, path)
}

// Baseline returns the path → hash map the planner diffs against.
func (m *Manifest) Baseline() map[string]string {
	base := make(map[string]string, len(m.Entries))
	for path, entry := range m.Entries {
		base[path] = entry.Hash
	}
	return base
}

// Len returns the number of baseline entries.
func (m *Manifest) Len() int {
	return len(m.Entries)
}
