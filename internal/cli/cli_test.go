package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flatsync/flatsync/internal/config"
)

// captureOutput runs the CLI and returns what it printed to stdout.
func captureOutput(t *testing.T, args []string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	runErr := Run(context.Background(), args)

	if err := w.Close(); err != nil {
		t.Fatalf("failed to close pipe writer: %v", err)
	}
	os.Stdout = old

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("failed to read captured output: %v", err)
	}
	return buf.String(), runErr
}

// writeTestConfig points flatsync at throwaway remote and mirror roots.
func writeTestConfig(t *testing.T, remoteRoot, mirrorRoot string) string {
	t.Helper()

	cfg := config.Default()
	cfg.Project = "proj-1"
	cfg.Remote.Root = remoteRoot
	cfg.Mirror.Root = mirrorRoot
	cfg.Hooks.GitCommit = false
	cfg.Backup.Enabled = false

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.SaveToPath(path); err != nil {
		t.Fatalf("SaveToPath() error = %v", err)
	}
	return path
}

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if Commit == "" {
		t.Error("Commit should not be empty")
	}
	if BuildDate == "" {
		t.Error("BuildDate should not be empty")
	}
}

func TestVersionCommand(t *testing.T) {
	output, err := captureOutput(t, []string{"flatsync", "version"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, want := range []string{"flatsync version", "commit:", "built:", "go:"} {
		if !strings.Contains(output, want) {
			t.Errorf("Run() output = %q, want substring %q", output, want)
		}
	}
}

func TestHelpInitializes(t *testing.T) {
	output, err := captureOutput(t, []string{"flatsync", "--help"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, want := range []string{"push", "pull", "status", "watch"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing command %q", want)
		}
	}
}

func TestPutPushPullRoundTrip(t *testing.T) {
	remoteRoot := t.TempDir()
	mirrorA := t.TempDir()
	mirrorB := t.TempDir()
	cfgA := writeTestConfig(t, remoteRoot, mirrorA)
	cfgB := writeTestConfig(t, remoteRoot, mirrorB)

	source := filepath.Join(t.TempDir(), "main.gs")
	if err := os.WriteFile(source, []byte("function main() {}"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// put writes through to the remote store and the local mirror.
	if _, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfgA, "put", "main.gs", source}); err != nil {
		t.Fatalf("put error = %v", err)
	}

	remoteFile := filepath.Join(remoteRoot, "proj-1", "main.gs")
	data, err := os.ReadFile(remoteFile)
	if err != nil {
		t.Fatalf("remote store missing main.gs: %v", err)
	}
	if string(data) != "function main() {}" {
		t.Errorf("remote content = %q", data)
	}
	if mirrored, err := os.ReadFile(filepath.Join(mirrorA, "main.gs")); err != nil || string(mirrored) != "function main() {}" {
		t.Errorf("mirror content = %q, err = %v", mirrored, err)
	}

	// A fresh mirror pulls the file down.
	if _, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfgB, "pull"}); err != nil {
		t.Fatalf("pull error = %v", err)
	}
	if pulled, err := os.ReadFile(filepath.Join(mirrorB, "main.gs")); err != nil || string(pulled) != "function main() {}" {
		t.Errorf("pulled content = %q, err = %v", pulled, err)
	}

	// After the pull both sides match the baseline.
	output, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfgB, "status"})
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(output, "in sync") {
		t.Errorf("status output = %q, want in sync", output)
	}
}

func TestPushAppliesLocalEdits(t *testing.T) {
	remoteRoot := t.TempDir()
	mirrorRoot := t.TempDir()
	cfg := writeTestConfig(t, remoteRoot, mirrorRoot)

	if err := os.WriteFile(filepath.Join(mirrorRoot, "lib.gs"), []byte("function lib() {}"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// Dry run previews without applying.
	output, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfg, "push", "--dry-run"})
	if err != nil {
		t.Fatalf("push --dry-run error = %v", err)
	}
	if !strings.Contains(output, "lib.gs") {
		t.Errorf("dry-run output = %q, want lib.gs listed", output)
	}
	if _, err := os.Stat(filepath.Join(remoteRoot, "proj-1", "lib.gs")); !os.IsNotExist(err) {
		t.Fatal("dry run wrote to the remote store")
	}

	if _, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfg, "push"}); err != nil {
		t.Fatalf("push error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(remoteRoot, "proj-1", "lib.gs")); err != nil {
		t.Errorf("remote store missing lib.gs after push: %v", err)
	}
}

func TestRmRemovesRemoteFile(t *testing.T) {
	remoteRoot := t.TempDir()
	mirrorRoot := t.TempDir()
	cfg := writeTestConfig(t, remoteRoot, mirrorRoot)

	source := filepath.Join(t.TempDir(), "doomed.gs")
	if err := os.WriteFile(source, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfg, "put", "doomed.gs", source}); err != nil {
		t.Fatalf("put error = %v", err)
	}

	if _, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfg, "rm", "doomed.gs"}); err != nil {
		t.Fatalf("rm error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(remoteRoot, "proj-1", "doomed.gs")); !os.IsNotExist(err) {
		t.Error("remote store still has doomed.gs")
	}
}

func TestCatPrintsRemoteContent(t *testing.T) {
	remoteRoot := t.TempDir()
	cfg := writeTestConfig(t, remoteRoot, t.TempDir())

	if err := os.MkdirAll(filepath.Join(remoteRoot, "proj-1"), 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(remoteRoot, "proj-1", "main.gs"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	output, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", cfg, "cat", "main.gs"})
	if err != nil {
		t.Fatalf("cat error = %v", err)
	}
	if output != "hello" {
		t.Errorf("cat output = %q, want %q", output, "hello")
	}
}

func TestMissingProjectFails(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Root = t.TempDir()
	cfg.Mirror.Root = t.TempDir()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.SaveToPath(path); err != nil {
		t.Fatalf("SaveToPath() error = %v", err)
	}

	_, err := captureOutput(t, []string{"flatsync", "--no-color", "--config", path, "status"})
	if err == nil || !strings.Contains(err.Error(), "project") {
		t.Errorf("Run() error = %v, want missing-project error", err)
	}
}
