// Package executor applies reconciliation plans against the remote store
// and the local mirror.
//
// Applies are serialized per project behind the lock manager and every
// remote call passes through the shared rate limiter (via the throttled
// client). The remote store has no multi-file transaction, so a failure
// mid-plan does not roll back operations already applied: the caller gets
// the exact succeeded/failed split and can retry just the failed subset.
// The manifest baseline is advanced only when the whole plan succeeded.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flatsync/flatsync/internal/backup"
	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/localfs"
	"github.com/flatsync/flatsync/internal/lockmgr"
	"github.com/flatsync/flatsync/internal/logging"
	"github.com/flatsync/flatsync/internal/manifest"
	"github.com/flatsync/flatsync/internal/planner"
	"github.com/flatsync/flatsync/internal/remote"
)

// ErrConflict marks plan entries the executor refuses to auto-apply.
// Conflicted paths need a human (or a fresh plan after one side is chosen).
var ErrConflict = errors.New("conflicting changes on both sides, not auto-applied")

// FailedOp records one operation that could not be applied.
type FailedOp struct {
	Path string
	Type planner.OpType
	Err  error
}

// Result is the per-plan outcome.
type Result struct {
	Succeeded []string
	Failed    []FailedOp
}

// Complete reports whether every operation applied.
func (r *Result) Complete() bool {
	return len(r.Failed) == 0
}

// Executor applies plans for one project/mirror pair.
type Executor struct {
	client      remote.Client
	mirror      *localfs.Mirror
	codec       remote.Codec
	locks       *lockmgr.Manager
	archiver    *backup.Archiver
	retention   time.Duration
	lockTimeout time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLockManager overrides the shared process-wide lock table.
func WithLockManager(m *lockmgr.Manager) Option {
	return func(e *Executor) { e.locks = m }
}

// WithLockTimeout bounds the wait for the project lock.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Executor) { e.lockTimeout = d }
}

// WithArchiver snapshots mirror files before a pull overwrites or deletes
// them.
func WithArchiver(a *backup.Archiver) Option {
	return func(e *Executor) { e.archiver = a }
}

// WithRetention prunes snapshots older than d whenever the archiver runs.
// Zero keeps snapshots forever.
func WithRetention(d time.Duration) Option {
	return func(e *Executor) { e.retention = d }
}

// New creates an Executor. client should already be throttled so every
// remote call is charged against the shared quota.
func New(client remote.Client, mirror *localfs.Mirror, codec remote.Codec, opts ...Option) *Executor {
	if codec == nil {
		codec = remote.IdentityCodec()
	}
	e := &Executor{
		client:      client,
		mirror:      mirror,
		codec:       codec,
		locks:       lockmgr.Default(),
		lockTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs the plan under the project lock. Individual operation failures
// never abort the rest of the plan; they are aggregated into the Result.
// The manifest is updated and saved only when every operation succeeded.
// The returned error covers whole-apply failures only (lock acquisition,
// manifest persistence), never per-operation ones.
func (e *Executor) Apply(
	ctx context.Context,
	projectID string,
	plan []planner.Operation,
	direction planner.Direction,
	man *manifest.Manifest,
) (*Result, error) {
	defer logging.Timer("apply")()

	result := &Result{}
	if len(plan) == 0 {
		return result, nil
	}

	holder := fmt.Sprintf("executor-%s-%s", direction, uuid.NewString()[:8])
	release, err := e.locks.Acquire(ctx, projectID, holder, e.lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to lock project %q: %w", projectID, err)
	}
	defer release()

	logging.Debug("applying plan",
		logging.Project(projectID),
		logging.Direction(string(direction)),
		logging.Count(len(plan)),
		logging.Holder(holder),
	)

	if e.archiver != nil && direction == planner.Pull {
		if err := e.snapshotOverwrites(plan); err != nil {
			logging.Warn("pre-apply backup failed, continuing",
				logging.Project(projectID),
				logging.Err(err),
			)
		}
		e.pruneSnapshots(projectID)
	}

	for _, op := range plan {
		if err := e.applyOne(ctx, projectID, op, direction); err != nil {
			logging.Warn("operation failed",
				logging.Project(projectID),
				logging.Path(op.Path),
				slog.String("type", string(op.Type)),
				logging.Err(err),
			)
			result.Failed = append(result.Failed, FailedOp{Path: op.Path, Type: op.Type, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, op.Path)
	}

	if !result.Complete() {
		// Leave the manifest at its last known-good baseline rather than
		// recording an inconsistent mix.
		logging.Info("plan partially applied, manifest not updated",
			logging.Project(projectID),
			slog.Int("succeeded", len(result.Succeeded)),
			slog.Int("failed", len(result.Failed)),
		)
		return result, nil
	}

	if man != nil {
		e.advanceBaseline(plan, man)
		if err := man.Save(); err != nil {
			return result, fmt.Errorf("plan applied but manifest save failed: %w", err)
		}
	}

	logging.Info("plan applied",
		logging.Project(projectID),
		logging.Direction(string(direction)),
		logging.Count(len(result.Succeeded)),
	)
	return result, nil
}

func (e *Executor) applyOne(ctx context.Context, projectID string, op planner.Operation, direction planner.Direction) error {
	if op.Type == planner.OpConflict {
		return fmt.Errorf("%s: %w", op.Path, ErrConflict)
	}

	if direction == planner.Push {
		switch op.Type {
		case planner.OpCreate, planner.OpUpdate:
			_, err := e.client.CreateOrUpdateFile(ctx, projectID, op.Path, op.Content)
			return err
		case planner.OpDelete:
			err := e.client.DeleteFile(ctx, projectID, op.Path)
			if errors.Is(err, remote.ErrNotFound) {
				return nil // already gone remotely
			}
			return err
		}
		return fmt.Errorf("unknown operation type %q", op.Type)
	}

	switch op.Type {
	case planner.OpCreate, planner.OpUpdate:
		return e.mirror.Write(op.Path, e.codec.Unwrap(op.Path, op.Content))
	case planner.OpDelete:
		return e.mirror.Delete(op.Path)
	}
	return fmt.Errorf("unknown operation type %q", op.Type)
}

// snapshotOverwrites archives the current mirror content of every path a
// pull is about to replace or remove.
func (e *Executor) snapshotOverwrites(plan []planner.Operation) error {
	var paths []string
	for _, op := range plan {
		if op.Type == planner.OpConflict {
			continue
		}
		if e.mirror.Exists(op.Path) {
			paths = append(paths, op.Path)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	_, err := e.archiver.Snapshot(e.mirror, paths)
	return err
}

// pruneSnapshots drops snapshots past the retention window. Best effort: a
// prune failure never blocks the sync.
func (e *Executor) pruneSnapshots(projectID string) {
	if e.retention <= 0 {
		return
	}
	removed, err := e.archiver.Prune(e.retention)
	if err != nil {
		logging.Warn("snapshot prune failed",
			logging.Project(projectID),
			logging.Err(err),
		)
		return
	}
	if removed > 0 {
		logging.Debug("pruned expired snapshots",
			logging.Project(projectID),
			logging.Count(removed),
		)
	}
}

// advanceBaseline records the fully-applied plan in the manifest.
func (e *Executor) advanceBaseline(plan []planner.Operation, man *manifest.Manifest) {
	for _, op := range plan {
		switch op.Type {
		case planner.OpCreate, planner.OpUpdate:
			man.Set(op.Path, blob.HashString(op.Content))
		case planner.OpDelete:
			man.Remove(op.Path)
		}
	}
}
