package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flatsync/flatsync/internal/backup"
	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/localfs"
	"github.com/flatsync/flatsync/internal/lockmgr"
	"github.com/flatsync/flatsync/internal/manifest"
	"github.com/flatsync/flatsync/internal/planner"
	"github.com/flatsync/flatsync/internal/ratelimit"
	"github.com/flatsync/flatsync/internal/remote"
	"github.com/flatsync/flatsync/internal/remote/memstore"
)

const testProject = "proj-1"

func testSetup(t *testing.T) (*memstore.Store, *localfs.Mirror, *manifest.Manifest) {
	t.Helper()

	root := t.TempDir()
	mirror, err := localfs.New(root, nil)
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	man, err := manifest.Load(root)
	if err != nil {
		t.Fatalf("manifest.Load() error = %v", err)
	}
	return memstore.New(), mirror, man
}

func TestApply_PushSuccess(t *testing.T) {
	store, mirror, man := testSetup(t)
	store.Seed(testProject, map[string]string{"stale.gs": "old"})
	man.Set("stale.gs", blob.HashString("old"))

	plan := []planner.Operation{
		{Type: planner.OpCreate, Path: "main.gs", Content: "function main() {}"},
		{Type: planner.OpUpdate, Path: "stale.gs", Content: "new"},
	}

	ex := New(store, mirror, nil, WithLockManager(lockmgr.NewManager()))
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Push, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Complete() {
		t.Fatalf("Apply() failed operations: %v", result.Failed)
	}
	if len(result.Succeeded) != 2 {
		t.Errorf("Succeeded = %v, want 2 paths", result.Succeeded)
	}

	contents := store.Contents(testProject)
	if contents["main.gs"] != "function main() {}" {
		t.Errorf("remote main.gs = %q", contents["main.gs"])
	}
	if contents["stale.gs"] != "new" {
		t.Errorf("remote stale.gs = %q", contents["stale.gs"])
	}

	// Baseline advanced and persisted.
	loaded, err := manifest.Load(mirror.Root())
	if err != nil {
		t.Fatalf("manifest.Load() error = %v", err)
	}
	if hash, ok := loaded.Hash("main.gs"); !ok || hash != blob.HashString("function main() {}") {
		t.Errorf("manifest hash for main.gs = %q, %v", hash, ok)
	}
	if hash, _ := loaded.Hash("stale.gs"); hash != blob.HashString("new") {
		t.Errorf("manifest hash for stale.gs = %q", hash)
	}
}

func TestApply_PushDeleteAlreadyGone(t *testing.T) {
	store, mirror, man := testSetup(t)
	store.Seed(testProject, map[string]string{})
	man.Set("gone.gs", blob.HashString("old"))

	plan := []planner.Operation{{Type: planner.OpDelete, Path: "gone.gs"}}

	ex := New(store, mirror, nil, WithLockManager(lockmgr.NewManager()))
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Push, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Complete() {
		t.Fatalf("deleting an already-deleted remote file should succeed, got %v", result.Failed)
	}

	loaded, _ := manifest.Load(mirror.Root())
	if _, ok := loaded.Hash("gone.gs"); ok {
		t.Error("gone.gs still in manifest after successful delete")
	}
}

func TestApply_PartialFailureLeavesManifestUntouched(t *testing.T) {
	store, mirror, man := testSetup(t)
	store.Seed(testProject, map[string]string{})
	store.FailWritesTo("bad.gs", errors.New("server error"))

	man.Set("prior.gs", blob.HashString("prior"))
	if err := man.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	plan := []planner.Operation{
		{Type: planner.OpCreate, Path: "bad.gs", Content: "x"},
		{Type: planner.OpCreate, Path: "good.gs", Content: "y"},
	}

	ex := New(store, mirror, nil, WithLockManager(lockmgr.NewManager()))
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Push, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Complete() {
		t.Fatal("expected a failed operation")
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0] != "good.gs" {
		t.Errorf("Succeeded = %v, want [good.gs]", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].Path != "bad.gs" {
		t.Fatalf("Failed = %v, want bad.gs only", result.Failed)
	}

	// good.gs applied remotely even though bad.gs failed.
	if store.Contents(testProject)["good.gs"] != "y" {
		t.Error("good.gs not applied after sibling failure")
	}

	// Manifest stays at the pre-apply baseline.
	loaded, _ := manifest.Load(mirror.Root())
	if loaded.Len() != 1 {
		t.Errorf("manifest has %d entries, want the original 1", loaded.Len())
	}
	if _, ok := loaded.Hash("good.gs"); ok {
		t.Error("manifest recorded good.gs despite incomplete plan")
	}
}

func TestApply_ConflictRefused(t *testing.T) {
	store, mirror, man := testSetup(t)
	store.Seed(testProject, map[string]string{"main.gs": "remote edit"})
	if err := mirror.Write("main.gs", "local edit"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	plan := []planner.Operation{{Type: planner.OpConflict, Path: "main.gs"}}

	ex := New(store, mirror, nil, WithLockManager(lockmgr.NewManager()))
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Push, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %v, want the conflict", result.Failed)
	}
	if !errors.Is(result.Failed[0].Err, ErrConflict) {
		t.Errorf("Failed[0].Err = %v, want ErrConflict", result.Failed[0].Err)
	}

	// Neither side touched.
	if store.Contents(testProject)["main.gs"] != "remote edit" {
		t.Error("remote content changed while resolving nothing")
	}
	if got, _ := mirror.Read("main.gs"); got != "local edit" {
		t.Error("local content changed while resolving nothing")
	}
}

func TestApply_PullWritesMirror(t *testing.T) {
	store, mirror, man := testSetup(t)
	if err := mirror.Write("stale.gs", "stale"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := mirror.Write("removed.gs", "doomed"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	plan := []planner.Operation{
		{Type: planner.OpCreate, Path: "new.gs", Content: "fresh"},
		{Type: planner.OpUpdate, Path: "stale.gs", Content: "current"},
		{Type: planner.OpDelete, Path: "removed.gs"},
	}

	ex := New(store, mirror, nil, WithLockManager(lockmgr.NewManager()))
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Pull, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Complete() {
		t.Fatalf("Apply() failed operations: %v", result.Failed)
	}

	if got, _ := mirror.Read("new.gs"); got != "fresh" {
		t.Errorf("new.gs = %q, want %q", got, "fresh")
	}
	if got, _ := mirror.Read("stale.gs"); got != "current" {
		t.Errorf("stale.gs = %q, want %q", got, "current")
	}
	if mirror.Exists("removed.gs") {
		t.Error("removed.gs still present after pull delete")
	}

	// No remote writes on a pull.
	if n := store.Calls("CreateOrUpdateFile") + store.Calls("DeleteFile"); n != 0 {
		t.Errorf("pull issued %d remote writes, want 0", n)
	}
}

func TestApply_PullUnwrapsStorageForm(t *testing.T) {
	store, mirror, man := testSetup(t)

	plan := []planner.Operation{
		{Type: planner.OpCreate, Path: "main.gs", Content: "body//wrapped"},
	}

	ex := New(store, mirror, suffixCodec{}, WithLockManager(lockmgr.NewManager()))
	if _, err := ex.Apply(context.Background(), testProject, plan, planner.Pull, man); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got, _ := mirror.Read("main.gs"); got != "body" {
		t.Errorf("mirror holds %q, want unwrapped display form", got)
	}
}

func TestApply_EmptyPlanSkipsLock(t *testing.T) {
	store, mirror, man := testSetup(t)

	locks := lockmgr.NewManager()
	release, err := locks.Acquire(context.Background(), testProject, "someone-else", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ex := New(store, mirror, nil, WithLockManager(locks), WithLockTimeout(50*time.Millisecond))
	result, err := ex.Apply(context.Background(), testProject, nil, planner.Push, man)
	if err != nil {
		t.Fatalf("Apply() with empty plan error = %v", err)
	}
	if len(result.Succeeded) != 0 || len(result.Failed) != 0 {
		t.Errorf("empty plan produced %+v", result)
	}
}

func TestApply_LockHeld(t *testing.T) {
	store, mirror, man := testSetup(t)

	locks := lockmgr.NewManager()
	release, err := locks.Acquire(context.Background(), testProject, "watch-loop", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	plan := []planner.Operation{{Type: planner.OpCreate, Path: "main.gs", Content: "x"}}

	ex := New(store, mirror, nil, WithLockManager(locks), WithLockTimeout(50*time.Millisecond))
	_, err = ex.Apply(context.Background(), testProject, plan, planner.Push, man)

	var timeoutErr *lockmgr.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Apply() error = %v, want lock timeout", err)
	}
	if store.Calls("CreateOrUpdateFile") != 0 {
		t.Error("remote written without holding the project lock")
	}
}

func TestApply_QuotaErrorsRecordedAsFailures(t *testing.T) {
	store, mirror, man := testSetup(t)

	// Two tokens: the third operation hits the quota.
	limiter := ratelimit.New(2, 0.0001)
	throttled := remote.Throttled(store, limiter)

	plan := []planner.Operation{
		{Type: planner.OpCreate, Path: "a.gs", Content: "a"},
		{Type: planner.OpCreate, Path: "b.gs", Content: "b"},
		{Type: planner.OpCreate, Path: "c.gs", Content: "c"},
	}

	ex := New(throttled, mirror, nil, WithLockManager(lockmgr.NewManager()))
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Push, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result.Succeeded) != 2 || len(result.Failed) != 1 {
		t.Fatalf("result = %+v, want two applied and one quota failure", result)
	}

	var quotaErr *ratelimit.QuotaError
	if !errors.As(result.Failed[0].Err, &quotaErr) {
		t.Errorf("Failed[0].Err = %v, want QuotaError", result.Failed[0].Err)
	}
	if quotaErr != nil && quotaErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", quotaErr.RetryAfter)
	}
}

func TestApply_PullSnapshotsOverwrites(t *testing.T) {
	store, mirror, man := testSetup(t)
	if err := mirror.Write("keep.gs", "original"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	backupDir := t.TempDir()
	archiver := backup.NewAt(testProject, backupDir)

	plan := []planner.Operation{
		{Type: planner.OpUpdate, Path: "keep.gs", Content: "overwritten"},
		{Type: planner.OpCreate, Path: "new.gs", Content: "fresh"},
	}

	ex := New(store, mirror, nil, WithLockManager(lockmgr.NewManager()), WithArchiver(archiver))
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Pull, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Complete() {
		t.Fatalf("Apply() failed operations: %v", result.Failed)
	}

	// Exactly one snapshot, holding only the file the pull overwrote.
	snapDir := singleSnapshotDir(t, backupDir)
	data, err := os.ReadFile(filepath.Join(snapDir, "keep.gs"))
	if err != nil {
		t.Fatalf("snapshot missing keep.gs: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("snapshot keep.gs = %q, want pre-pull content", data)
	}
	if _, err := os.Stat(filepath.Join(snapDir, "new.gs")); !os.IsNotExist(err) {
		t.Error("snapshot contains new.gs, which had no prior mirror content")
	}
}

func TestApply_PullPrunesExpiredSnapshots(t *testing.T) {
	store, mirror, man := testSetup(t)
	if err := mirror.Write("keep.gs", "original"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	backupDir := t.TempDir()
	archiver := backup.NewAt(testProject, backupDir)

	// An old snapshot already past the retention window.
	expired := filepath.Join(backupDir, "20200101-000000.000000")
	if err := os.Mkdir(expired, 0o750); err != nil {
		t.Fatal(err)
	}
	aged := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(expired, aged, aged); err != nil {
		t.Fatal(err)
	}

	plan := []planner.Operation{
		{Type: planner.OpUpdate, Path: "keep.gs", Content: "overwritten"},
	}

	ex := New(store, mirror, nil,
		WithLockManager(lockmgr.NewManager()),
		WithArchiver(archiver),
		WithRetention(24*time.Hour),
	)
	result, err := ex.Apply(context.Background(), testProject, plan, planner.Pull, man)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Complete() {
		t.Fatalf("Apply() failed operations: %v", result.Failed)
	}

	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired snapshot should be pruned during the pull")
	}
	// The fresh snapshot from this pull survives.
	snapDir := singleSnapshotDir(t, backupDir)
	if _, err := os.Stat(filepath.Join(snapDir, "keep.gs")); err != nil {
		t.Errorf("fresh snapshot missing keep.gs: %v", err)
	}
}

func singleSnapshotDir(t *testing.T, projectDir string) string {
	t.Helper()

	entries, err := os.ReadDir(projectDir)
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", projectDir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(projectDir, e.Name()))
		}
	}
	if len(dirs) != 1 {
		t.Fatalf("found %d snapshot dirs, want 1", len(dirs))
	}
	return dirs[0]
}

type suffixCodec struct{}

func (suffixCodec) Wrap(_, display string) string { return display + "//wrapped" }

func (suffixCodec) Unwrap(_, storage string) string {
	return storage[:len(storage)-len("//wrapped")]
}
