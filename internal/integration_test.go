// Package internal contains integration tests that verify the runtime
// packages work together: plans built by the planner flow through the
// store, bundle, locks and daemon to completion, pausing at approval
// gates along the way.
package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coworkerhq/coworker/internal/bundle"
	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/daemon"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/planner"
	"github.com/coworkerhq/coworker/internal/store"
)

type runtimeEnv struct {
	store    *store.Store
	daemon   *daemon.Daemon
	stateDir string
	workDir  string
}

func newRuntimeEnv(t *testing.T) *runtimeEnv {
	t.Helper()
	stateDir := t.TempDir()
	workDir := t.TempDir()

	st, err := store.Open(filepath.Join(stateDir, "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Policy.AllowedPaths = []string{workDir}
	cfg.Runtime.Enabled = true
	cfg.Runtime.StateDir = stateDir

	return &runtimeEnv{
		store:    st,
		daemon:   daemon.New(st, cfg, stateDir),
		stateDir: stateDir,
		workDir:  workDir,
	}
}

// submit queues a plan the way the submit command does: hash stamped,
// bundle initialized, task row created.
func (env *runtimeEnv) submit(t *testing.T, pl *plan.Plan) store.TaskRecord {
	t.Helper()
	planHash := pl.EnsureHash()
	taskID := store.NewTaskID()
	bundleRoot := filepath.Join(env.stateDir, "bundles", taskID)
	metadata := map[string]any{
		"selected_paths": []string{env.workDir},
		"allowed_roots":  []string{env.workDir},
	}
	if _, err := bundle.Init(bundleRoot, taskID, pl, plan.BuildPreview(pl), metadata); err != nil {
		t.Fatalf("bundle init: %v", err)
	}
	task, err := env.store.CreateTask(store.CreateTaskParams{
		TaskID:     taskID,
		PlanHash:   planHash,
		PlanPath:   filepath.Join(bundleRoot, "plan.json"),
		BundlePath: bundleRoot,
		Metadata:   metadata,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env *runtimeEnv) runOnce(t *testing.T, workerID string) daemon.Result {
	t.Helper()
	result, err := env.daemon.RunOnce(context.Background(), workerID)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return result
}

func (env *runtimeEnv) taskState(t *testing.T, taskID string) store.TaskState {
	t.Helper()
	task, err := env.store.GetTask(taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return task.State
}

func writePlan(t *testing.T, targets map[string]string, checkpointEvery int) *plan.Plan {
	t.Helper()
	var calls []planner.RawCall
	for path, content := range targets {
		calls = append(calls, planner.RawCall{
			Tool: "fs.apply_write_file",
			Args: map[string]any{"path": path, "content": content},
		})
	}
	pl, err := planner.BuildManualPlan(calls, "integration", checkpointEvery)
	if err != nil {
		t.Fatalf("BuildManualPlan: %v", err)
	}
	return pl
}

// TestTaskLifecycle drives a task through the full approval flow: queued,
// parked waiting for approval, then completed once the approval lands.
func TestTaskLifecycle(t *testing.T) {
	env := newRuntimeEnv(t)
	target := filepath.Join(env.workDir, "out.txt")
	task := env.submit(t, writePlan(t, map[string]string{target: "done"}, 0))

	env.runOnce(t, "w1")
	if got := env.taskState(t, task.ID); got != store.StateWaitingApproval {
		t.Fatalf("state after first pass = %s, want waiting_approval", got)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("no write may happen before approval")
	}

	if _, err := env.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}
	env.runOnce(t, "w1")
	if got := env.taskState(t, task.ID); got != store.StateCompleted {
		t.Fatalf("state after approval = %s, want completed", got)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "done" {
		t.Fatalf("target = %q, %v", data, err)
	}
}

// TestSharedPathTasks submits two tasks over the same path and verifies
// locks are released between runs so both reach completion.
func TestSharedPathTasks(t *testing.T) {
	env := newRuntimeEnv(t)
	target := filepath.Join(env.workDir, "shared.txt")

	first := env.submit(t, writePlan(t, map[string]string{target: "first"}, 0))
	second := env.submit(t, writePlan(t, map[string]string{target: "second"}, 0))
	if _, err := env.store.RecordApproval(first.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.RecordApproval(second.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}

	// Each pass claims one task; its locks are released on completion so
	// the next pass can claim the other.
	env.runOnce(t, "w1")
	env.runOnce(t, "w1")
	env.runOnce(t, "w1")

	if got := env.taskState(t, first.ID); got != store.StateCompleted {
		t.Errorf("first task state = %s", got)
	}
	if got := env.taskState(t, second.ID); got != store.StateCompleted {
		t.Errorf("second task state = %s", got)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first" && string(data) != "second" {
		t.Errorf("target = %q", data)
	}
}

// TestCheckpointApprovalFlow verifies that a checkpointed plan pauses
// mid-run and resumes from recorded state instead of replaying writes.
func TestCheckpointApprovalFlow(t *testing.T) {
	env := newRuntimeEnv(t)
	a := filepath.Join(env.workDir, "a.txt")
	b := filepath.Join(env.workDir, "b.txt")
	c := filepath.Join(env.workDir, "c.txt")

	var calls []planner.RawCall
	for _, item := range []struct{ path, content string }{
		{a, "a"}, {b, "b"}, {c, "c"},
	} {
		calls = append(calls, planner.RawCall{
			Tool: "fs.apply_write_file",
			Args: map[string]any{"path": item.path, "content": item.content},
		})
	}
	pl, err := planner.BuildManualPlan(calls, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	task := env.submit(t, pl)

	// Approve the segment up to checkpoint "2" (the second write).
	if _, err := env.store.RecordApproval(task.PlanHash, "tester", "2"); err != nil {
		t.Fatal(err)
	}
	env.runOnce(t, "w1")
	if got := env.taskState(t, task.ID); got != store.StateWaitingApproval {
		t.Fatalf("state at checkpoint = %s", got)
	}
	if _, err := os.Stat(b); err != nil {
		t.Error("writes before the checkpoint must land")
	}
	if _, err := os.Stat(c); !os.IsNotExist(err) {
		t.Error("writes past the checkpoint must wait")
	}

	// Plan-level approval releases the rest of the run.
	if _, err := env.store.RecordApproval(task.PlanHash, "tester", ""); err != nil {
		t.Fatal(err)
	}
	env.runOnce(t, "w1")
	if got := env.taskState(t, task.ID); got != store.StateCompleted {
		t.Fatalf("final state = %s", got)
	}
	data, err := os.ReadFile(c)
	if err != nil || string(data) != "c" {
		t.Errorf("c = %q, %v", data, err)
	}
}
