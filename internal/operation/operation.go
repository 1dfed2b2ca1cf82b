// Package operation implements two-phase file operations against the
// remote store.
//
// Content must be validated and reformatted locally (hooks) before being
// pushed, but the canonical source lives remotely and writes are not
// transactional. Each operation is therefore split into a pure compute
// phase (read remote state, derive target content, no writes) and an apply
// phase (write the possibly hook-modified content remotely), with the local
// commit and hook pipeline sandwiched between. The orchestrator drives the
// phases as an explicit state machine under a held project lock.
package operation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/flatsync/flatsync/internal/collision"
	"github.com/flatsync/flatsync/internal/remote"
)

// Kind identifies an operation variant.
type Kind string

const (
	KindWrite  Kind = "write"
	KindEdit   Kind = "edit"
	KindMove   Kind = "move"
	KindCopy   Kind = "copy"
	KindDelete Kind = "delete"
)

// ValidationError reports malformed strategy input. It is fatal and
// surfaced immediately; nothing is retried or rolled back.
type ValidationError struct {
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s operation: %s", e.Kind, e.Reason)
}

// Strategy is the closed variant family of file operations. Implementations
// are pure "what to change" logic behind a uniform two-phase contract; the
// orchestrator is written generically against this interface and knows
// nothing about individual variants.
//
// ComputeChanges returns the pending changes as a path → display-form
// content map, where an empty string value is the deletion sentinel: move,
// copy, and delete express themselves purely through which keys are present
// or empty, so no dedicated delete transport exists beyond it.
type Strategy interface {
	// ComputeChanges reads current remote content and derives the target
	// content. It performs no writes.
	ComputeChanges(ctx context.Context) (map[string]string, error)

	// ApplyChanges writes the (possibly hook-modified) content to the
	// remote store. It must only be called after ComputeChanges.
	ApplyChanges(ctx context.Context, validated map[string]string) error

	// Rollback best-effort reverses the remote writes ApplyChanges made,
	// restoring the state captured during ComputeChanges. Never called
	// when ComputeChanges itself failed.
	Rollback(ctx context.Context) error

	// AffectedFiles returns the key set of the computed change map,
	// sorted. Empty before ComputeChanges succeeds.
	AffectedFiles() []string

	// Kind identifies the variant, for lock holder labels and commit
	// message generation.
	Kind() Kind

	// core exposes shared state to the orchestrator and closes the
	// variant family to this package.
	core() *base
}

// Deps carries the collaborators every strategy needs.
type Deps struct {
	Client    remote.Client
	Codec     remote.Codec
	Detector  *collision.Detector
	ProjectID string
}

// NewDeps builds strategy dependencies with an identity codec and a fresh
// unified-diff detector unless provided.
func NewDeps(client remote.Client, codec remote.Codec, projectID string) Deps {
	return NewDepsWithFormat(client, codec, projectID, collision.FormatUnified)
}

// NewDepsWithFormat is NewDeps with the detector's diff format chosen by the
// caller, for wiring the configured collision.diff_format through.
func NewDepsWithFormat(client remote.Client, codec remote.Codec, projectID string, format collision.DiffFormat) Deps {
	if codec == nil {
		codec = remote.IdentityCodec()
	}
	return Deps{
		Client:    client,
		Codec:     codec,
		Detector:  collision.NewDetector(codec, format),
		ProjectID: projectID,
	}
}

// appliedChange records one remote write made during ApplyChanges, so
// Rollback knows what to reverse.
type appliedChange struct {
	path    string
	deleted bool
}

// base holds state shared by all strategy variants.
type base struct {
	deps     Deps
	kind     Kind
	computed map[string]string
	// prior is the remote state of every touched path at compute time;
	// a nil entry means the path did not exist.
	prior   map[string]*remote.File
	applied []appliedChange
}

func newBase(deps Deps, kind Kind) base {
	return base{
		deps:  deps,
		kind:  kind,
		prior: make(map[string]*remote.File),
	}
}

func (b *base) Kind() Kind {
	return b.kind
}

func (b *base) core() *base {
	return b
}

// AffectedFiles returns the sorted key set of the computed change map.
func (b *base) AffectedFiles() []string {
	if b.computed == nil {
		return nil
	}
	paths := make([]string, 0, len(b.computed))
	for path := range b.computed {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// readRemote fetches a file's current remote state, recording it for both
// collision detection and rollback. The second return value reports
// existence.
func (b *base) readRemote(ctx context.Context, path string) (remote.File, bool, error) {
	file, err := b.deps.Client.GetFile(ctx, b.deps.ProjectID, path)
	if errors.Is(err, remote.ErrNotFound) {
		b.deps.Detector.RecordAbsent(path)
		b.prior[path] = nil
		return remote.File{}, false, nil
	}
	if err != nil {
		return remote.File{}, false, fmt.Errorf("failed to read remote %s: %w", path, err)
	}
	b.deps.Detector.RecordFile(file)
	snapshot := file
	b.prior[path] = &snapshot
	return file, true, nil
}

// setComputed stores the pending change map after a successful compute.
func (b *base) setComputed(changes map[string]string) map[string]string {
	b.computed = changes
	return changes
}

// ApplyChanges writes the validated content remotely: creations and
// updates first, deletions last, so a move never leaves a window with
// neither source nor destination present.
func (b *base) ApplyChanges(ctx context.Context, validated map[string]string) error {
	if b.computed == nil {
		return fmt.Errorf("%s: apply called before compute", b.kind)
	}

	paths := make([]string, 0, len(validated))
	for path := range validated {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := validated[paths[i]] == "", validated[paths[j]] == ""
		if di != dj {
			return !di
		}
		return paths[i] < paths[j]
	})

	for _, path := range paths {
		display := validated[path]
		if display == "" {
			err := b.deps.Client.DeleteFile(ctx, b.deps.ProjectID, path)
			if err != nil && !errors.Is(err, remote.ErrNotFound) {
				return fmt.Errorf("failed to delete remote %s: %w", path, err)
			}
			b.applied = append(b.applied, appliedChange{path: path, deleted: true})
			continue
		}

		storage := b.deps.Codec.Wrap(path, display)
		if _, err := b.deps.Client.CreateOrUpdateFile(ctx, b.deps.ProjectID, path, storage); err != nil {
			return fmt.Errorf("failed to write remote %s: %w", path, err)
		}
		b.applied = append(b.applied, appliedChange{path: path})
	}
	return nil
}

// Rollback restores the compute-time remote state of every path touched by
// ApplyChanges, in reverse order. Best effort: the first failure is
// returned but remaining paths are still attempted.
func (b *base) Rollback(ctx context.Context) error {
	var firstErr error
	for i := len(b.applied) - 1; i >= 0; i-- {
		change := b.applied[i]
		prior := b.prior[change.path]

		var err error
		if prior == nil {
			// Path did not exist before: undo the creation.
			err = b.deps.Client.DeleteFile(ctx, b.deps.ProjectID, change.path)
			if errors.Is(err, remote.ErrNotFound) {
				err = nil
			}
		} else {
			_, err = b.deps.Client.CreateOrUpdateFile(ctx, b.deps.ProjectID, change.path, prior.Content)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to restore %s: %w", change.path, err)
		}
	}
	b.applied = nil
	return firstErr
}
