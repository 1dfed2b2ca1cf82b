package collision

import (
	"strings"
	"testing"

	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/remote"
)

func remoteFile(path, content string) remote.File {
	return remote.File{Path: path, Content: content, Hash: blob.HashString(content)}
}

func TestDetect_Classification(t *testing.T) {
	tests := []struct {
		name       string
		record     func(d *Detector)
		live       map[string]remote.File
		wantAction Action
		wantNone   bool
	}{
		{
			name:     "matching hash - no collision",
			record:   func(d *Detector) { d.RecordFile(remoteFile("a.gs", "same")) },
			live:     map[string]remote.File{"a.gs": remoteFile("a.gs", "same")},
			wantNone: true,
		},
		{
			name:       "hash differs and file exists - modified",
			record:     func(d *Detector) { d.RecordFile(remoteFile("a.gs", "old")) },
			live:       map[string]remote.File{"a.gs": remoteFile("a.gs", "new")},
			wantAction: ActionModified,
		},
		{
			name:       "live file absent - deleted",
			record:     func(d *Detector) { d.RecordFile(remoteFile("a.gs", "old")) },
			live:       map[string]remote.File{},
			wantAction: ActionDeleted,
		},
		{
			name:       "absent at prior read, present now - created externally",
			record:     func(d *Detector) { d.RecordAbsent("a.gs") },
			live:       map[string]remote.File{"a.gs": remoteFile("a.gs", "surprise")},
			wantAction: ActionCreatedExternally,
		},
		{
			name:     "absent before and absent now - no collision",
			record:   func(d *Detector) { d.RecordAbsent("a.gs") },
			live:     map[string]remote.File{},
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(nil, FormatUnified)
			tt.record(d)

			info := d.Detect(tt.live)

			if tt.wantNone {
				if info.HasCollisions {
					t.Fatalf("expected no collisions, got %+v", info)
				}
				return
			}

			if !info.HasCollisions {
				t.Fatal("expected a collision")
			}
			if len(info.StaleFiles) != 1 {
				t.Fatalf("expected 1 stale file, got %d", len(info.StaleFiles))
			}
			if info.StaleFiles[0].Action != tt.wantAction {
				t.Errorf("action = %s, want %s", info.StaleFiles[0].Action, tt.wantAction)
			}
			if info.Recommendation == "" {
				t.Error("expected a recommendation")
			}
		})
	}
}

func TestDetect_DeletedCarriesNoActualHash(t *testing.T) {
	d := NewDetector(nil, FormatUnified)
	d.RecordFile(remoteFile("a.gs", "old"))

	info := d.Detect(map[string]remote.File{})

	sf := info.StaleFiles[0]
	if sf.ActualHash != "" {
		t.Errorf("deleted file should have empty actual hash, got %q", sf.ActualHash)
	}
	if sf.ExpectedHash != blob.HashString("old") {
		t.Errorf("expected hash mismatch: %q", sf.ExpectedHash)
	}
}

func TestDetect_UnifiedDiffOverDisplayForm(t *testing.T) {
	// Codec stores everything with a wrapper prefix; the diff must be
	// rendered over the unwrapped (display) form.
	codec := prefixCodec{prefix: "WRAPPED:"}
	d := NewDetector(codec, FormatUnified)

	d.RecordFile(remoteFile("a.gs", "WRAPPED:hello world"))
	info := d.Detect(map[string]remote.File{
		"a.gs": remoteFile("a.gs", "WRAPPED:hello there world"),
	})

	diff := info.StaleFiles[0].Diff
	if strings.Contains(diff, "WRAPPED") {
		t.Errorf("diff leaked storage form: %s", diff)
	}
	if diff == "" {
		t.Error("expected a rendered diff")
	}
}

func TestDetect_SummaryFormat(t *testing.T) {
	d := NewDetector(nil, FormatSummary)
	d.RecordFile(remoteFile("a.gs", "aaaa"))

	info := d.Detect(map[string]remote.File{"a.gs": remoteFile("a.gs", "aaaabbbb")})

	if info.DiffFormat != FormatSummary {
		t.Errorf("format = %s", info.DiffFormat)
	}
	if !strings.Contains(info.StaleFiles[0].Diff, "+4") {
		t.Errorf("summary diff = %q, want insertion count", info.StaleFiles[0].Diff)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name string
		want DiffFormat
	}{
		{"unified", FormatUnified},
		{"summary", FormatSummary},
		{"", FormatUnified},
		{"bogus", FormatUnified},
	}
	for _, tt := range tests {
		if got := ParseFormat(tt.name); got != tt.want {
			t.Errorf("ParseFormat(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestExpectedHash(t *testing.T) {
	d := NewDetector(nil, FormatUnified)
	d.RecordFile(remoteFile("a.gs", "content"))
	d.RecordAbsent("b.gs")

	if hash, ok := d.ExpectedHash("a.gs"); !ok || hash != blob.HashString("content") {
		t.Errorf("ExpectedHash(a.gs) = %q, %v", hash, ok)
	}
	if _, ok := d.ExpectedHash("b.gs"); ok {
		t.Error("absent path should report no expected hash")
	}
	if _, ok := d.ExpectedHash("never-seen.gs"); ok {
		t.Error("unseen path should report no expected hash")
	}
}

// prefixCodec wraps content behind a fixed prefix, for tests.
type prefixCodec struct {
	prefix string
}

func (c prefixCodec) Wrap(_, display string) string {
	return c.prefix + display
}

func (c prefixCodec) Unwrap(_, storage string) string {
	return strings.TrimPrefix(storage, c.prefix)
}
