package localfs

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestMirror(t *testing.T, ignore ...string) *Mirror {
	t.Helper()
	m, err := New(t.TempDir(), ignore)
	if err != nil {
		t.Fatalf("failed to create mirror: %v", err)
	}
	return m
}

func TestWriteReadDelete(t *testing.T) {
	m := newTestMirror(t)

	if err := m.Write("lib/util.gs", "function util() {}"); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := m.Read("lib/util.gs")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "function util() {}" {
		t.Errorf("content = %q", got)
	}
	if !m.Exists("lib/util.gs") {
		t.Error("Exists should report the written file")
	}

	if err := m.Delete("lib/util.gs"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Exists("lib/util.gs") {
		t.Error("file should be gone after delete")
	}

	// Empty parent directories are pruned.
	if _, err := os.Stat(filepath.Join(m.Root(), "lib")); !os.IsNotExist(err) {
		t.Error("empty parent directory should be pruned")
	}
}

func TestDelete_AbsentIsNoop(t *testing.T) {
	m := newTestMirror(t)
	if err := m.Delete("never/was.gs"); err != nil {
		t.Errorf("deleting an absent file should be a no-op, got %v", err)
	}
}

func TestScan_SkipsIgnored(t *testing.T) {
	m := newTestMirror(t, "**.tmp", "build/**")

	files := map[string]string{
		"main.gs":        "main",
		"lib/util.gs":    "util",
		"scratch.tmp":    "temp",
		"build/out.gs":   "built",
		".git/config":    "git stuff",
		".flatsync/meta": "state",
	}
	for rel, content := range files {
		if err := m.Write(rel, content); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}

	got, err := m.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := map[string]string{
		"main.gs":     "main",
		"lib/util.gs": "util",
	}
	if len(got) != len(want) {
		t.Fatalf("scanned %d files %v, want %d", len(got), got, len(want))
	}
	for rel, content := range want {
		if got[rel] != content {
			t.Errorf("%s = %q, want %q", rel, got[rel], content)
		}
	}
}

func TestResolve_RejectsTraversal(t *testing.T) {
	m := newTestMirror(t)

	for _, rel := range []string{"../escape.gs", "a/../../etc/passwd", ""} {
		if err := m.Write(rel, "x"); err == nil {
			t.Errorf("Write(%q) should be rejected", rel)
		}
		if _, err := m.Read(rel); err == nil {
			t.Errorf("Read(%q) should be rejected", rel)
		}
	}
}

func TestIgnored(t *testing.T) {
	m := newTestMirror(t, "node_modules/**")

	tests := []struct {
		rel  string
		want bool
	}{
		{".git/HEAD", true},
		{".flatsync/manifest.json", true},
		{"node_modules/pkg/index.js", true},
		{"src/main.gs", false},
	}
	for _, tt := range tests {
		if got := m.Ignored(tt.rel); got != tt.want {
			t.Errorf("Ignored(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}
