package board

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleManifest = `
[[board]]
id = "docs"
name = "Documentation"

[[board.stage]]
name = "backlog"

[[board.stage]]
name = "ready"
wip_limit = 5

[[board.stage]]
name = "in_progress"
wip_limit = 2

[[board.stage]]
name = "done"

[[board]]
id = "infra"
`

func TestParseManifest(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Boards) != 2 {
		t.Fatalf("boards = %d, want 2", len(m.Boards))
	}

	docs := m.Boards[0]
	if docs.Name != "Documentation" || len(docs.Stages) != 4 {
		t.Errorf("docs = %+v", docs)
	}
	if n, ok := docs.WIPLimit(StageInProgress); !ok || n != 2 {
		t.Errorf("docs in_progress limit = (%d, %v), want (2, true)", n, ok)
	}
	if _, ok := docs.WIPLimit(StageBacklog); ok {
		t.Error("backlog should be unlimited")
	}

	infra := m.Boards[1]
	if len(infra.Stages) != len(DefaultStages()) {
		t.Errorf("infra stages = %d, want defaults", len(infra.Stages))
	}
}

func TestParseManifestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want error
	}{
		{"duplicate board", "[[board]]\nid = \"a\"\n[[board]]\nid = \"a\"\n", ErrInvalidBoard},
		{"missing id", "[[board]]\nname = \"x\"\n", ErrInvalidBoard},
		{"limited backlog", "[[board]]\nid = \"a\"\n[[board.stage]]\nname = \"backlog\"\nwip_limit = 1\n", ErrInvalidBoard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseManifest([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseManifest = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := ParseManifest([]byte("[[board]\n")); err == nil {
		t.Error("expected TOML syntax error")
	}
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := LoadManifest(filepath.Join(dir, "missing.toml")); !errors.Is(err, ErrNoManifest) {
		t.Errorf("LoadManifest(missing) = %v, want ErrNoManifest", err)
	}

	path := filepath.Join(dir, "boards.toml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}

	if err := m.ApplyWIPLimits(map[string]int{StageInProgress: 1, StageReview: 3}); err != nil {
		t.Fatalf("ApplyWIPLimits: %v", err)
	}
	if n, _ := m.Boards[0].WIPLimit(StageInProgress); n != 1 {
		t.Errorf("docs in_progress = %d, want 1", n)
	}
	if m.Boards[0].HasStage(StageReview) {
		t.Error("override must not add stages")
	}
	if n, ok := m.Boards[1].WIPLimit(StageReview); !ok || n != 3 {
		t.Errorf("infra review = (%d, %v), want (3, true)", n, ok)
	}
	if err := m.ApplyWIPLimits(map[string]int{StageDone: 1}); !errors.Is(err, ErrInvalidBoard) {
		t.Errorf("limiting terminal = %v, want ErrInvalidBoard", err)
	}

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := ParseManifest(data); err != nil {
		t.Errorf("re-parse marshaled manifest: %v", err)
	}
}

func TestManifestWatcherReloadsOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "boards.toml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewManifestWatcher(path)
	if err != nil {
		t.Fatalf("NewManifestWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("[[board]]\nid = \"solo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case change := <-w.Changes:
		if change.Err != nil {
			t.Fatalf("reload error: %v", change.Err)
		}
		if len(change.Manifest.Boards) != 1 || change.Manifest.Boards[0].ID != "solo" {
			t.Errorf("reloaded boards = %+v", change.Manifest.Boards)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for manifest reload")
	}
}

func TestManifestWatcherKeepsNewestWhenBehind(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "boards.toml")
	w, err := NewManifestWatcher(path)
	if err != nil {
		t.Fatalf("NewManifestWatcher: %v", err)
	}
	t.Cleanup(func() { w.watcher.Close() })

	// Nobody reads Changes while the file is rewritten more times than the
	// channel can buffer.
	const edits = 7
	for i := range edits {
		body := fmt.Sprintf("[[board]]\nid = \"edit-%d\"\n", i)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		w.emit()
	}

	var last ManifestChange
	for n := len(w.Changes); n > 0; n-- {
		last = <-w.Changes
	}
	if last.Err != nil {
		t.Fatalf("reload error: %v", last.Err)
	}
	if got := last.Manifest.Boards[0].ID; got != fmt.Sprintf("edit-%d", edits-1) {
		t.Errorf("latest queued manifest is %q, want the final edit", got)
	}
}
