package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/coworkerhq/coworker/internal/bundle"
	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/locks"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/store"
)

type fixture struct {
	daemon   *Daemon
	store    *store.Store
	stateDir string
	workDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	stateDir := filepath.Join(base, "state")
	workDir := filepath.Join(base, "work")
	for _, dir := range []string{stateDir, workDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	st, err := store.Open(filepath.Join(stateDir, "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	return &fixture{
		daemon:   New(st, cfg, stateDir),
		store:    st,
		stateDir: stateDir,
		workDir:  workDir,
	}
}

func (f *fixture) submit(t *testing.T, planJSON string, metadata map[string]any) store.TaskRecord {
	t.Helper()
	pl, err := plan.Parse([]byte(planJSON))
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	taskID := store.NewTaskID()
	bundleRoot := filepath.Join(f.stateDir, "bundles", taskID)
	paths, err := bundle.Init(bundleRoot, taskID, pl, nil, metadata)
	if err != nil {
		t.Fatalf("init bundle: %v", err)
	}
	task, err := f.store.CreateTask(store.CreateTaskParams{
		TaskID:     taskID,
		PlanHash:   pl.Hash(),
		PlanPath:   paths.PlanPath,
		BundlePath: bundleRoot,
		Metadata:   metadata,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (f *fixture) events(t *testing.T, task store.TaskRecord) []string {
	t.Helper()
	events, err := bundle.ReadEvents(bundle.BundlePaths(task.BundlePath))
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	names := make([]string, len(events))
	for i, ev := range events {
		names[i], _ = ev["event"].(string)
	}
	return names
}

func (f *fixture) state(t *testing.T, taskID string) store.TaskRecord {
	t.Helper()
	task, err := f.store.GetTask(taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task
}

func containsEvent(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	result, err := f.daemon.RunOnce(context.Background(), "w1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Task != nil || result.Message != "no queued tasks" {
		t.Errorf("result = %+v", result)
	}
}

func TestRunOnce_CompletesApprovedWrite(t *testing.T) {
	f := newFixture(t)
	planJSON := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "hi"}}]}`,
		filepath.Join(f.workDir, "out.txt"))
	task := f.submit(t, planJSON, map[string]any{"allow_roots": []string{f.workDir}})

	if _, err := f.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatalf("record approval: %v", err)
	}

	result, err := f.daemon.RunOnce(context.Background(), "w1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Message != "task processed" {
		t.Errorf("message = %q", result.Message)
	}

	got := f.state(t, task.ID)
	if got.State != store.StateCompleted {
		t.Errorf("state = %s", got.State)
	}
	if got.CurrentStep != 1 {
		t.Errorf("current_step = %d", got.CurrentStep)
	}
	raw, err := os.ReadFile(filepath.Join(f.workDir, "out.txt"))
	if err != nil || string(raw) != "hi" {
		t.Errorf("out.txt = %q, %v", raw, err)
	}
	names := f.events(t, task)
	for _, want := range []string{"task_claimed", "tool_call_finished", "task_completed"} {
		if !containsEvent(names, want) {
			t.Errorf("missing event %q in %v", want, names)
		}
	}
}

func TestRunOnce_ParksWithoutApproval_ThenResumesOnApproval(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.workDir, "out.txt")
	planJSON := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "hi"}}]}`,
		target)
	task := f.submit(t, planJSON, map[string]any{
		"selected_paths": []string{f.workDir},
		"allow_roots":    []string{f.workDir},
	})

	result, err := f.daemon.RunOnce(context.Background(), "w1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Message != "task processed" {
		t.Errorf("message = %q", result.Message)
	}
	got := f.state(t, task.ID)
	if got.State != store.StateWaitingApproval {
		t.Fatalf("state = %s, want waiting_approval", got.State)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("no file may be written before approval")
	}
	// The path lock is retained while the task waits.
	entries, err := os.ReadDir(filepath.Join(f.stateDir, "locks"))
	if err != nil || len(entries) != 1 {
		t.Errorf("lock entries = %d, %v", len(entries), err)
	}
	if !containsEvent(f.events(t, task), "task_waiting_approval") {
		t.Errorf("events = %v", f.events(t, task))
	}

	// Nothing to do until the approval arrives.
	result, err = f.daemon.RunOnce(context.Background(), "w1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Message != "no queued tasks" {
		t.Errorf("message = %q", result.Message)
	}

	if _, err := f.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatalf("record approval: %v", err)
	}
	result, err = f.daemon.RunOnce(context.Background(), "w1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Message != "task processed" {
		t.Errorf("message = %q", result.Message)
	}
	if got := f.state(t, task.ID); got.State != store.StateCompleted {
		t.Errorf("state = %s", got.State)
	}
	raw, err := os.ReadFile(target)
	if err != nil || string(raw) != "hi" {
		t.Errorf("out.txt = %q, %v", raw, err)
	}
	entries, err = os.ReadDir(filepath.Join(f.stateDir, "locks"))
	if err != nil || len(entries) != 0 {
		t.Errorf("locks must be released after completion: %d, %v", len(entries), err)
	}
}

func TestRunOnce_CheckpointPauseAndResume(t *testing.T) {
	f := newFixture(t)
	planJSON := fmt.Sprintf(`{"version": 1, "checkpoints": ["2"], "tool_calls": [
		{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "a"}},
		{"id": "2", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "b"}},
		{"id": "3", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "c"}}
	]}`,
		filepath.Join(f.workDir, "a.txt"),
		filepath.Join(f.workDir, "b.txt"),
		filepath.Join(f.workDir, "c.txt"))
	task := f.submit(t, planJSON, map[string]any{"allow_roots": []string{f.workDir}})

	if _, err := f.store.RecordApproval(task.PlanHash, "tester", "2"); err != nil {
		t.Fatalf("record approval: %v", err)
	}
	if _, err := f.daemon.RunOnce(context.Background(), "w1"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := f.state(t, task.ID)
	if got.State != store.StateWaitingApproval {
		errMsg := ""
		if got.Error != nil {
			errMsg = *got.Error
		}
		t.Fatalf("state = %s (%s), want waiting_approval", got.State, errMsg)
	}
	if got.CurrentStep != 2 {
		t.Errorf("current_step = %d, want 2", got.CurrentStep)
	}
	if got.NextCheckpoint != nil {
		t.Errorf("next_checkpoint = %v, want NULL past the last checkpoint", *got.NextCheckpoint)
	}
	if _, err := os.Stat(filepath.Join(f.workDir, "b.txt")); err != nil {
		t.Error("checkpoint call must have completed before the pause")
	}
	if _, err := os.Stat(filepath.Join(f.workDir, "c.txt")); !os.IsNotExist(err) {
		t.Error("call after the checkpoint must not have run")
	}

	// A plan-level approval resumes the final segment.
	if _, err := f.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatalf("record approval: %v", err)
	}
	if _, err := f.daemon.RunOnce(context.Background(), "w1"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := f.state(t, task.ID); got.State != store.StateCompleted {
		t.Errorf("state = %s", got.State)
	}
	raw, err := os.ReadFile(filepath.Join(f.workDir, "c.txt"))
	if err != nil || string(raw) != "c" {
		t.Errorf("c.txt = %q, %v", raw, err)
	}
}

func TestRunOnce_HashMismatchFailsTask(t *testing.T) {
	f := newFixture(t)
	planJSON := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "hi"}}]}`,
		filepath.Join(f.workDir, "out.txt"))
	task := f.submit(t, planJSON, map[string]any{"allow_roots": []string{f.workDir}})

	// Tamper with the bundle plan after submission.
	tampered := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "evil"}}]}`,
		filepath.Join(f.workDir, "out.txt"))
	planPath := bundle.BundlePaths(task.BundlePath).PlanPath
	if err := os.WriteFile(planPath, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := f.daemon.RunOnce(context.Background(), "w1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Message != "task processed" {
		t.Errorf("message = %q", result.Message)
	}
	got := f.state(t, task.ID)
	if got.State != store.StateFailed {
		t.Fatalf("state = %s", got.State)
	}
	if got.Error == nil || *got.Error != "plan hash mismatch; refusing to execute" {
		t.Errorf("error = %v", got.Error)
	}
	if _, err := os.Stat(filepath.Join(f.workDir, "out.txt")); !os.IsNotExist(err) {
		t.Error("tampered plan must not execute")
	}
	if !containsEvent(f.events(t, task), "task_failed") {
		t.Errorf("events = %v", f.events(t, task))
	}
}

func TestRunOnce_PolicyViolationFailsTask(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "outside.txt")
	planJSON := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "hi"}}]}`,
		outside)
	task := f.submit(t, planJSON, map[string]any{"allow_roots": []string{f.workDir}})
	if _, err := f.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := f.daemon.RunOnce(context.Background(), "w1"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got := f.state(t, task.ID)
	if got.State != store.StateFailed {
		t.Fatalf("state = %s", got.State)
	}
	if got.Error == nil {
		t.Fatal("expected a validation error")
	}
}

func TestRunOnce_LockConflictRequeues(t *testing.T) {
	f := newFixture(t)
	planJSON := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "hi"}}]}`,
		filepath.Join(f.workDir, "out.txt"))
	task := f.submit(t, planJSON, map[string]any{
		"selected_paths": []string{f.workDir},
		"allow_roots":    []string{f.workDir},
	})
	if _, err := f.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}

	// Another task already holds the work dir.
	other, err := locks.AcquireLocks([]string{f.workDir}, filepath.Join(f.stateDir, "locks"), "tsk_other", "w9")
	if err != nil || other.Empty() {
		t.Fatalf("setup lock: %+v, %v", other, err)
	}

	result, err := f.daemon.RunOnce(context.Background(), "w1")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Message != "task deferred (locks busy)" {
		t.Errorf("message = %q", result.Message)
	}
	got := f.state(t, task.ID)
	if got.State != store.StateQueued {
		t.Errorf("state = %s, want queued", got.State)
	}
	if !containsEvent(f.events(t, task), "task_lock_failed") {
		t.Errorf("events = %v", f.events(t, task))
	}

	// Releasing the conflicting lock lets the next pass through.
	other.Release()
	if _, err := f.daemon.RunOnce(context.Background(), "w1"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := f.state(t, task.ID); got.State != store.StateCompleted {
		t.Errorf("state = %s", got.State)
	}
}

func TestRunTask_CanceledTaskOnlyRecordsEvent(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.workDir, "out.txt")
	planJSON := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "hi"}}]}`,
		target)
	task := f.submit(t, planJSON, map[string]any{"allow_roots": []string{f.workDir}})
	if _, err := f.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}

	// Cancel lands between claim and execution.
	errMsg := "canceled by user"
	if _, err := f.store.UpdateTaskState(task.ID, store.TaskUpdate{
		State: store.StateCanceled,
		Error: &errMsg,
	}); err != nil {
		t.Fatal(err)
	}

	processed, err := f.daemon.runTask(context.Background(), task, "w1")
	if err != nil {
		t.Fatalf("runTask: %v", err)
	}
	if !processed {
		t.Error("canceled task counts as processed")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("canceled task must not execute")
	}
	if got := f.state(t, task.ID); got.State != store.StateCanceled {
		t.Errorf("state = %s", got.State)
	}
	if !containsEvent(f.events(t, task), "task_canceled") {
		t.Errorf("events = %v", f.events(t, task))
	}
}

func TestClaimWaitingTask_SkipsUnapproved(t *testing.T) {
	f := newFixture(t)
	planJSON := fmt.Sprintf(
		`{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.apply_write_file", "args": {"path": %q, "content": "hi"}}]}`,
		filepath.Join(f.workDir, "out.txt"))
	task := f.submit(t, planJSON, map[string]any{"allow_roots": []string{f.workDir}})
	if _, err := f.store.UpdateTaskState(task.ID, store.TaskUpdate{
		State: store.StateWaitingApproval,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := f.daemon.claimWaitingTask("w1")
	if err != nil {
		t.Fatalf("claimWaitingTask: %v", err)
	}
	if got != nil {
		t.Error("task without approval must not be claimed")
	}

	if _, err := f.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}
	got, err = f.daemon.claimWaitingTask("w1")
	if err != nil {
		t.Fatalf("claimWaitingTask: %v", err)
	}
	if got == nil || got.ID != task.ID {
		t.Fatalf("claimed = %+v", got)
	}
	if got.State != store.StateRunning {
		t.Errorf("state = %s, want running after claim", got.State)
	}
}
