package operation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/collision"
	"github.com/flatsync/flatsync/internal/localfs"
	"github.com/flatsync/flatsync/internal/lockmgr"
	"github.com/flatsync/flatsync/internal/logging"
	"github.com/flatsync/flatsync/internal/manifest"
	"github.com/flatsync/flatsync/internal/remote"
)

// State is the orchestration state machine. Success ends in StateApplied;
// any failure after a successful compute ends in StateRolledBack.
type State string

const (
	StatePending        State = "pending"
	StateComputed       State = "computed"
	StateLocalCommitted State = "local_committed"
	StateApplied        State = "applied"
	StateFailed         State = "failed"
	StateRolledBack     State = "rolled_back"
)

// Result reports an orchestrated operation's outcome. Collisions are
// informational and present on success too.
type Result struct {
	Kind          Kind
	State         State
	AffectedFiles []string
	Collisions    collision.Info
}

// Orchestrator drives a strategy through compute → local commit → hooks →
// apply, with best-effort rollback on failure, under a held project lock.
type Orchestrator struct {
	mirror      *localfs.Mirror
	manifest    *manifest.Manifest
	hooks       Pipeline
	locks       *lockmgr.Manager
	lockTimeout time.Duration
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithHooks installs the local commit-and-validate pipeline.
func WithHooks(hooks Pipeline) OrchestratorOption {
	return func(o *Orchestrator) { o.hooks = hooks }
}

// WithManifest keeps the sync baseline current as single-file operations
// apply, so a later bulk sync sees them as already synced.
func WithManifest(m *manifest.Manifest) OrchestratorOption {
	return func(o *Orchestrator) { o.manifest = m }
}

// WithLockManager overrides the shared process-wide lock table.
func WithLockManager(m *lockmgr.Manager) OrchestratorOption {
	return func(o *Orchestrator) { o.locks = m }
}

// WithLockTimeout bounds the wait for the project lock.
func WithLockTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.lockTimeout = d }
}

// NewOrchestrator creates an Orchestrator writing through the given mirror.
func NewOrchestrator(mirror *localfs.Mirror, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		mirror:      mirror,
		locks:       lockmgr.Default(),
		lockTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs one strategy to completion under the project lock.
//
// Sequence: ComputeChanges → write results to the local mirror → run the
// hook pipeline (which may mutate content) → write the validated content
// back → collision check (informational) → ApplyChanges. Rollback runs if
// and only if a step after a successful compute fails; rollback failures
// are logged, never escalated.
func (o *Orchestrator) Execute(ctx context.Context, s Strategy) (*Result, error) {
	defer logging.Timer(string(s.Kind()))()

	result := &Result{Kind: s.Kind(), State: StatePending}
	deps := s.core().deps

	holder := fmt.Sprintf("%s-%s", s.Kind(), uuid.NewString()[:8])
	release, err := o.locks.Acquire(ctx, deps.ProjectID, holder, o.lockTimeout)
	if err != nil {
		return result, fmt.Errorf("failed to lock project %q: %w", deps.ProjectID, err)
	}
	defer release()

	logging.Debug("executing operation",
		logging.Project(deps.ProjectID),
		logging.Operation(string(s.Kind())),
		logging.Holder(holder),
	)

	computed, err := s.ComputeChanges(ctx)
	if err != nil {
		// Nothing to undo: compute makes no writes.
		result.State = StateFailed
		return result, fmt.Errorf("compute failed: %w", err)
	}
	result.State = StateComputed
	result.AffectedFiles = s.AffectedFiles()

	mirrorPrior := o.snapshotMirror(computed)

	validated, err := o.localCommit(ctx, s, computed)
	if err != nil {
		o.rollback(ctx, s, result, mirrorPrior)
		return result, fmt.Errorf("local commit failed: %w", err)
	}
	result.State = StateLocalCommitted

	result.Collisions = o.detectCollisions(ctx, deps)

	if err := s.ApplyChanges(ctx, validated); err != nil {
		o.rollback(ctx, s, result, mirrorPrior)
		return result, fmt.Errorf("apply failed: %w", err)
	}
	result.State = StateApplied

	if o.manifest != nil {
		o.advanceBaseline(deps, validated)
	}

	logging.Info("operation applied",
		logging.Project(deps.ProjectID),
		logging.Operation(string(s.Kind())),
		logging.Count(len(result.AffectedFiles)),
		slog.Bool("collisions", result.Collisions.HasCollisions),
	)
	return result, nil
}

// localCommit writes the pending changes into the mirror, runs the hook
// pipeline, and persists any hook modifications so the mirror matches what
// will be pushed.
func (o *Orchestrator) localCommit(ctx context.Context, s Strategy, computed map[string]string) (map[string]string, error) {
	if err := o.writeMirror(computed); err != nil {
		return nil, err
	}

	info := HookInfo{ProjectID: s.core().deps.ProjectID, Kind: s.Kind()}
	validated, err := o.hooks.Run(ctx, info, computed)
	if err != nil {
		return nil, fmt.Errorf("hook pipeline: %w", err)
	}

	// Persist hook modifications (e.g. reformatted content) back to the
	// mirror before they go remote.
	changedOnly := make(map[string]string)
	for path, content := range validated {
		if computed[path] != content {
			changedOnly[path] = content
		}
	}
	if err := o.writeMirror(changedOnly); err != nil {
		return nil, err
	}
	return validated, nil
}

func (o *Orchestrator) writeMirror(pending map[string]string) error {
	for path, content := range pending {
		if content == "" {
			if err := o.mirror.Delete(path); err != nil {
				return err
			}
			continue
		}
		if err := o.mirror.Write(path, content); err != nil {
			return err
		}
	}
	return nil
}

// detectCollisions fetches the live remote tree and compares it against
// the expectations the strategy recorded during compute. Detection never
// blocks the write; a failed listing just yields an empty report.
func (o *Orchestrator) detectCollisions(ctx context.Context, deps Deps) collision.Info {
	files, err := deps.Client.ListFiles(ctx, deps.ProjectID)
	if err != nil {
		logging.Warn("collision check skipped",
			logging.Project(deps.ProjectID),
			logging.Err(err),
		)
		return collision.Info{}
	}

	live := make(map[string]remote.File, len(files))
	for _, f := range files {
		live[f.Path] = f
	}
	return deps.Detector.Detect(live)
}

// snapshotMirror captures the mirror content of every pending path before
// localCommit touches it. A nil entry means the path did not exist; a path
// that exists but cannot be read is left out and stays untouched on rollback.
func (o *Orchestrator) snapshotMirror(pending map[string]string) map[string]*string {
	prior := make(map[string]*string, len(pending))
	for path := range pending {
		if !o.mirror.Exists(path) {
			prior[path] = nil
			continue
		}
		content, err := o.mirror.Read(path)
		if err != nil {
			logging.Warn("mirror snapshot failed", logging.Path(path), logging.Err(err))
			continue
		}
		prior[path] = &content
	}
	return prior
}

// restoreMirror puts every snapshotted mirror path back to its pre-commit
// content, deleting paths that did not exist before. Without this a failed
// operation would leave never-applied content in the mirror, and the next
// plan would stage it as a local change.
func (o *Orchestrator) restoreMirror(projectID string, prior map[string]*string) {
	for path, content := range prior {
		var err error
		if content == nil {
			err = o.mirror.Delete(path)
		} else {
			err = o.mirror.Write(path, *content)
		}
		if err != nil {
			logging.Warn("mirror restore incomplete",
				logging.Project(projectID),
				logging.Path(path),
				logging.Err(err),
			)
		}
	}
}

// rollback reverses the strategy's remote writes and restores the mirror
// paths written during localCommit, best effort. Failures are logged, not
// escalated: this is cleanup, not a guarantee.
func (o *Orchestrator) rollback(ctx context.Context, s Strategy, result *Result, mirrorPrior map[string]*string) {
	result.State = StateFailed
	o.restoreMirror(s.core().deps.ProjectID, mirrorPrior)
	if err := s.Rollback(ctx); err != nil {
		logging.Warn("rollback incomplete",
			logging.Project(s.core().deps.ProjectID),
			logging.Operation(string(s.Kind())),
			logging.Err(err),
		)
	}
	result.State = StateRolledBack
}

// advanceBaseline records applied single-file changes in the manifest so
// subsequent plans treat them as synced. A save failure is logged, not
// escalated: the remote write already happened and the baseline will catch
// up on the next successful sync.
func (o *Orchestrator) advanceBaseline(deps Deps, validated map[string]string) {
	for path, display := range validated {
		if display == "" {
			o.manifest.Remove(path)
			continue
		}
		o.manifest.Set(path, blob.HashString(deps.Codec.Wrap(path, display)))
	}
	if err := o.manifest.Save(); err != nil {
		logging.Warn("manifest save failed after apply", logging.Err(err))
	}
}
