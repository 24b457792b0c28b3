package bundle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coworkerhq/coworker/internal/plan"
)

func testPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p, err := plan.Parse([]byte(`{"version": 1, "tool_calls": [
		{"id": "1", "tool": "fs.list_dir", "args": {"path": "/tmp"}}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestInit_CreatesArtifacts(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bundles", "tsk_1")
	p := testPlan(t)

	paths, err := Init(root, "tsk_1", p, nil, map[string]any{"selected_paths": []string{"/tmp"}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	for _, path := range []string{paths.TaskPath, paths.PlanPath, paths.PreviewPath, paths.EventsPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing artifact %s: %v", path, err)
		}
	}
	for _, dir := range []string{paths.ScratchDir, paths.StagingDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing dir %s: %v", dir, err)
		}
	}

	// The stored plan carries its hash.
	loaded, err := plan.Load(paths.PlanPath)
	if err != nil {
		t.Fatalf("Load plan: %v", err)
	}
	if loaded.StoredHash() != p.Hash() {
		t.Errorf("stored hash = %s, want %s", loaded.StoredHash(), p.Hash())
	}

	preview, err := os.ReadFile(paths.PreviewPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(preview), "Tool calls: 1\n") {
		t.Errorf("preview = %q", preview)
	}
}

func TestEnsure_Idempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tsk_1")
	p := testPlan(t)

	paths, err := Init(root, "tsk_1", p, nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := AppendEvent(paths, Event{"event": "task_created"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	// Ensure must not reset the existing bundle.
	if _, err := Ensure(root, "tsk_1", p, nil, nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	events, err := ReadEvents(paths)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %v, want the original event preserved", events)
	}
}

func TestUpdateTaskSnapshot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tsk_1")
	p := testPlan(t)
	paths, err := Init(root, "tsk_1", p, nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	err = UpdateTaskSnapshot(paths, Snapshot{
		TaskID:   "tsk_1",
		PlanHash: p.Hash(),
		State:    "failed",
		Error:    "boom",
	})
	if err != nil {
		t.Fatalf("UpdateTaskSnapshot: %v", err)
	}
	raw, err := os.ReadFile(paths.TaskPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(raw)
	if !strings.Contains(content, `"state": "failed"`) || !strings.Contains(content, `"error": "boom"`) {
		t.Errorf("snapshot = %s", content)
	}
}

func TestAppendEvent_StampsTimestamp(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tsk_1")
	paths, err := Init(root, "tsk_1", testPlan(t), nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := AppendEvent(paths, Event{"event": "task_claimed", "worker": "w1"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := AppendEvent(paths, Event{"event": "custom", "ts": "20260101T000000Z"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := ReadEvents(paths)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %v", events)
	}
	if events[0]["ts"] == "" || events[0]["event"] != "task_claimed" {
		t.Errorf("event[0] = %v", events[0])
	}
	if events[1]["ts"] != "20260101T000000Z" {
		t.Errorf("caller timestamp must be preserved: %v", events[1])
	}
}
