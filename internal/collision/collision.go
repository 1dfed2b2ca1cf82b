// Package collision detects content drift between a caller's last-known
// remote state and the store's live state.
//
// Every prior read of a remote file records the git-blob hash of its
// storage form. Before a write, the live hash is compared against the
// recorded one and any mismatch is classified. Detection is purely
// informational: the remote store is last-write-wins and a collision never
// blocks a write: it tells the caller to re-derive its patch against
// fresh content.
package collision

import (
	"fmt"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/flatsync/flatsync/internal/remote"
)

// Action classifies how a stale file drifted.
type Action string

const (
	// ActionModified: the file still exists remotely but its content
	// changed since the last read.
	ActionModified Action = "modified"

	// ActionDeleted: the file was removed remotely since the last read.
	ActionDeleted Action = "deleted"

	// ActionCreatedExternally: the file was absent at the last read but
	// exists remotely now.
	ActionCreatedExternally Action = "created_externally"
)

// DiffFormat selects how drift diffs are rendered.
type DiffFormat string

const (
	// FormatUnified renders a patch-style text diff.
	FormatUnified DiffFormat = "unified"

	// FormatSummary renders a one-line insertion/deletion count.
	FormatSummary DiffFormat = "summary"
)

// ParseFormat maps a configured format name to a DiffFormat, falling back
// to FormatUnified for anything unrecognized.
func ParseFormat(name string) DiffFormat {
	if name == string(FormatSummary) {
		return FormatSummary
	}
	return FormatUnified
}

// StaleFile describes one drifted path.
type StaleFile struct {
	Path         string `json:"path"`
	ExpectedHash string `json:"expected_hash"`
	// ActualHash is empty when the live file no longer exists.
	ActualHash string `json:"actual_hash,omitempty"`
	Action     Action `json:"action"`
	// Diff is rendered over the display (unwrapped) form for readability;
	// hashes are always computed over the storage form.
	Diff string `json:"diff,omitempty"`
}

// Info is the collision report attached to an operation's result. It is
// data, never an error.
type Info struct {
	HasCollisions  bool        `json:"has_collisions"`
	StaleFiles     []StaleFile `json:"stale_files,omitempty"`
	Recommendation string      `json:"recommendation,omitempty"`
	DiffFormat     DiffFormat  `json:"diff_format,omitempty"`
}

type expectation struct {
	exists  bool
	hash    string
	display string // display-form content at read time, for diff rendering
}

// Detector tracks expected remote state per path and classifies drift
// against live files. Safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	codec    remote.Codec
	format   DiffFormat
	expected map[string]expectation
}

// NewDetector creates a Detector rendering diffs in the given format.
func NewDetector(codec remote.Codec, format DiffFormat) *Detector {
	if codec == nil {
		codec = remote.IdentityCodec()
	}
	if format == "" {
		format = FormatUnified
	}
	return &Detector{
		codec:    codec,
		format:   format,
		expected: make(map[string]expectation),
	}
}

// RecordFile notes that a prior read saw file with its current hash.
func (d *Detector) RecordFile(file remote.File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expected[file.Path] = expectation{
		exists:  true,
		hash:    file.Hash,
		display: d.codec.Unwrap(file.Path, file.Content),
	}
}

// RecordAbsent notes that a prior read found no file at path.
func (d *Detector) RecordAbsent(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expected[path] = expectation{exists: false}
}

// ExpectedHash returns the recorded hash for path, if a prior read saw it.
func (d *Detector) ExpectedHash(path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.expected[path]
	if !ok || !exp.exists {
		return "", false
	}
	return exp.hash, true
}

// Detect compares every recorded expectation against the live remote state
// (path → file; absent paths simply missing from the map) and returns the
// collision report.
func (d *Detector) Detect(live map[string]remote.File) Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stale []StaleFile
	for path, exp := range d.expected {
		file, exists := live[path]

		switch {
		case !exp.exists && exists:
			stale = append(stale, StaleFile{
				Path:       path,
				ActualHash: file.Hash,
				Action:     ActionCreatedExternally,
				Diff:       d.renderDiff("", d.codec.Unwrap(path, file.Content)),
			})

		case exp.exists && !exists:
			stale = append(stale, StaleFile{
				Path:         path,
				ExpectedHash: exp.hash,
				Action:       ActionDeleted,
			})

		case exp.exists && exists && file.Hash != exp.hash:
			stale = append(stale, StaleFile{
				Path:         path,
				ExpectedHash: exp.hash,
				ActualHash:   file.Hash,
				Action:       ActionModified,
				Diff:         d.renderDiff(exp.display, d.codec.Unwrap(path, file.Content)),
			})
		}
	}

	if len(stale) == 0 {
		return Info{HasCollisions: false}
	}
	return Info{
		HasCollisions:  true,
		StaleFiles:     stale,
		DiffFormat:     d.format,
		Recommendation: recommendation(len(stale)),
	}
}

func recommendation(n int) string {
	return fmt.Sprintf(
		"%d file(s) changed remotely since the last read; the write proceeded "+
			"(remote is last-write-wins) but you should re-derive your changes "+
			"against fresh content", n)
}

// renderDiff produces the configured diff representation between two
// display-form contents.
func (d *Detector) renderDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	if d.format == FormatSummary {
		var inserted, deleted int
		for _, diff := range diffs {
			switch diff.Type {
			case diffmatchpatch.DiffInsert:
				inserted += len(diff.Text)
			case diffmatchpatch.DiffDelete:
				deleted += len(diff.Text)
			}
		}
		return fmt.Sprintf("+%d/-%d bytes", inserted, deleted)
	}

	patches := dmp.PatchMake(before, diffs)
	return dmp.PatchToText(patches)
}
