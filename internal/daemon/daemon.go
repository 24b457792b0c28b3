// Package daemon implements the background worker that drains the task
// queue. Each pass claims one runnable task, locks its paths, and drives the
// executor; approval gaps park the task as waiting_approval, lock conflicts
// re-queue it, and everything else resolves to a terminal state. The daemon
// never crashes on a task error: failures are attributed to the task that
// caused them.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/coworkerhq/coworker/internal/approval"
	"github.com/coworkerhq/coworker/internal/bundle"
	"github.com/coworkerhq/coworker/internal/config"
	cwerrors "github.com/coworkerhq/coworker/internal/errors"
	"github.com/coworkerhq/coworker/internal/executor"
	"github.com/coworkerhq/coworker/internal/locks"
	"github.com/coworkerhq/coworker/internal/logging"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
	"github.com/coworkerhq/coworker/internal/registry"
	"github.com/coworkerhq/coworker/internal/runstate"
	"github.com/coworkerhq/coworker/internal/store"
)

// waitingPageSize bounds each page when scanning waiting_approval tasks.
const waitingPageSize = 50

// Daemon processes tasks from a store under one configuration.
type Daemon struct {
	store    *store.Store
	cfg      *config.Config
	stateDir string
	registry *registry.Registry
	log      *logging.Logger

	execOpts []executor.Option
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the structured logger. Defaults to a nop logger.
func WithLogger(log *logging.Logger) Option {
	return func(d *Daemon) { d.log = log }
}

// WithExecutorOptions forwards options to every executor the daemon builds.
// Tests use this to stub the web fetcher and document extractor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(d *Daemon) { d.execOpts = opts }
}

// New creates a Daemon over the given store and state directory.
func New(st *store.Store, cfg *config.Config, stateDir string, opts ...Option) *Daemon {
	d := &Daemon{
		store:    st,
		cfg:      cfg,
		stateDir: stateDir,
		registry: registry.Default(),
		log:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result reports what a single daemon pass did.
type Result struct {
	Task    *store.TaskRecord
	Message string
}

// RunOnce claims and processes at most one task: first the oldest queued
// task, then any waiting_approval task whose approval has arrived. A lock
// conflict re-queues the claimed task and falls through to the waiting scan
// so one busy task does not stall the queue.
func (d *Daemon) RunOnce(ctx context.Context, workerID string) (Result, error) {
	task, err := d.store.ClaimNextTask(workerID)
	if err != nil {
		return Result{}, err
	}
	if task == nil {
		task, err = d.claimWaitingTask(workerID)
		if err != nil {
			return Result{}, err
		}
		if task == nil {
			return Result{Message: "no queued tasks"}, nil
		}
	}

	processed, err := d.runTask(ctx, *task, workerID)
	if err != nil {
		d.failTask(task.ID, err)
		return Result{Task: task, Message: fmt.Sprintf("task failed: %v", err)}, nil
	}
	if processed {
		return d.result(task.ID, "task processed"), nil
	}

	// The claimed task was deferred on locks; give a ready waiting task a
	// chance in the same pass.
	waiting, err := d.claimWaitingTask(workerID)
	if err != nil {
		return Result{}, err
	}
	if waiting == nil {
		return d.result(task.ID, "task deferred (locks busy)"), nil
	}
	waitingProcessed, err := d.runTask(ctx, *waiting, workerID)
	if err != nil {
		d.failTask(waiting.ID, err)
		return Result{Task: waiting, Message: fmt.Sprintf("task failed: %v", err)}, nil
	}
	if waitingProcessed {
		return d.result(waiting.ID, "task processed"), nil
	}
	return d.result(waiting.ID, "task deferred (locks busy)"), nil
}

func (d *Daemon) result(taskID, message string) Result {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return Result{Message: message}
	}
	return Result{Task: &task, Message: message}
}

func (d *Daemon) failTask(taskID string, cause error) {
	msg := cause.Error()
	if _, err := d.store.UpdateTaskState(taskID, store.TaskUpdate{
		State:     store.StateFailed,
		Error:     &msg,
		ClearLock: true,
	}); err != nil {
		d.log.Error("failed to record task failure", "task_id", taskID, "error", err)
	}
	d.log.Error("task failed", "task_id", taskID, "error", msg)
}

// runTask executes one claimed task end to end. It returns false when the
// task could not take its path locks and was re-queued; any error is
// attributed to the task by the caller.
func (d *Daemon) runTask(ctx context.Context, task store.TaskRecord, workerID string) (bool, error) {
	log := d.log.WithWorker(workerID).WithTask(task.ID)

	latest, err := d.store.GetTask(task.ID)
	if err != nil {
		return false, err
	}
	if latest.State == store.StateCanceled {
		d.recordCancellation(latest)
		log.Info("task canceled before execution")
		return true, nil
	}

	handle, err := d.tryLockTask(task, workerID)
	if err != nil {
		return false, err
	}
	if handle == nil {
		log.Info("task deferred, path locks busy")
		return false, nil
	}
	retainLock := false
	defer func() {
		if !retainLock {
			handle.Release()
		}
	}()

	pl, err := plan.Load(d.planPathForTask(task))
	if err != nil {
		return false, err
	}
	planHash := pl.EnsureHash()
	if planHash != task.PlanHash {
		d.finishTask(task, pl, planHash, store.StateFailed, cwerrors.ErrHashMismatch.Error())
		log.Warn("plan hash mismatch", "expected", task.PlanHash, "actual", planHash)
		return true, nil
	}

	pol := policy.New(
		d.cfg.Policy.Limits(),
		stringsFromMetadata(task.Metadata, "selected_paths"),
		stringsFromMetadata(task.Metadata, "allow_roots"),
	)

	paths, err := bundle.Ensure(task.BundlePath, task.ID, pl, nil, task.Metadata)
	if err != nil {
		return false, err
	}
	d.appendEvent(paths, bundle.Event{
		"task_id":  task.ID,
		"event":    "task_claimed",
		"state":    "running",
		"metadata": map[string]any{"worker_id": workerID},
	})
	d.snapshot(paths, task, planHash, store.StateRunning, "")

	checkpoints := pl.Checkpoints()
	resume := d.loadResumeState(paths)
	checkpointID := resolveCheckpointID(checkpoints, resume)

	appr, err := d.resolveApproval(planHash, checkpointID)
	if err != nil {
		return false, err
	}
	if pol.RequireApproval && appr == nil {
		d.parkWaitingApproval(task, paths, planHash, checkpointID)
		log.Info("task waiting for approval", "checkpoint_id", checkpointID)
		retainLock = true
		return true, nil
	}

	ex := executor.New(pol, d.registry, d.execOpts...)
	results, state, err := ex.ApplyPlanWithState(
		ctx, pl, appr, resume,
		len(checkpoints) > 0 && pol.RequireApproval,
	)
	switch {
	case cwerrors.IsApproval(err):
		d.parkWaitingApproval(task, paths, planHash, checkpointID)
		log.Info("approval did not match, task parked", "checkpoint_id", checkpointID)
		retainLock = true
		return true, nil
	case cwerrors.IsPlanValidation(err):
		d.finishTask(task, pl, planHash, store.StateFailed, err.Error())
		log.Warn("plan rejected by policy", "error", err)
		return true, nil
	case err != nil:
		return false, err
	}

	for _, result := range results {
		d.appendEvent(paths, bundle.Event{
			"task_id": task.ID,
			"event":   "tool_call_finished",
			"state":   "running",
			"message": result,
		})
	}

	// A cancel that raced with execution wins: leave its state untouched.
	if current, err := d.store.GetTask(task.ID); err == nil && current.State == store.StateCanceled {
		log.Info("task canceled during execution")
		return true, nil
	}

	if state != nil {
		if err := runstate.Write(paths.ResumeStatePath, *state); err != nil {
			return false, err
		}
		steps := len(state.CompletedIDs)
		if _, err := d.store.UpdateTaskState(task.ID, store.TaskUpdate{
			State:          store.StateWaitingApproval,
			NextCheckpoint: nullableCheckpoint(state.NextCheckpoint),
			CurrentStep:    &steps,
		}); err != nil {
			return false, err
		}
		d.appendEvent(paths, bundle.Event{
			"task_id":       task.ID,
			"event":         "task_waiting_approval",
			"state":         "waiting_approval",
			"checkpoint_id": state.NextCheckpoint,
		})
		d.snapshot(paths, task, planHash, store.StateWaitingApproval, "")
		log.Info("checkpoint reached", "completed", steps, "next_checkpoint", state.NextCheckpoint)
		retainLock = true
		return true, nil
	}

	steps := len(pl.ToolCalls())
	if _, err := d.store.UpdateTaskState(task.ID, store.TaskUpdate{
		State:       store.StateCompleted,
		CurrentStep: &steps,
		ClearLock:   true,
	}); err != nil {
		return false, err
	}
	d.appendEvent(paths, bundle.Event{
		"task_id": task.ID,
		"event":   "task_completed",
		"state":   "completed",
	})
	d.snapshot(paths, task, planHash, store.StateCompleted, "")
	log.Info("task completed", "steps", steps)
	return true, nil
}

// claimWaitingTask scans waiting_approval tasks in pages and claims the
// first one whose pending checkpoint now has a matching approval.
func (d *Daemon) claimWaitingTask(workerID string) (*store.TaskRecord, error) {
	offset := 0
	for {
		candidates, err := d.store.ListTasks(store.StateWaitingApproval, waitingPageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		for _, task := range candidates {
			checkpointID := ""
			if task.NextCheckpoint != nil {
				checkpointID = *task.NextCheckpoint
			}
			appr, err := d.store.LatestApproval(task.PlanHash, checkpointID)
			if err != nil {
				return nil, err
			}
			if appr == nil {
				continue
			}
			claimed, err := d.store.ClaimTask(task.ID, store.StateWaitingApproval, workerID)
			if err != nil {
				return nil, err
			}
			if claimed {
				got, err := d.store.GetTask(task.ID)
				if err != nil {
					return nil, err
				}
				return &got, nil
			}
		}
		offset += len(candidates)
	}
}

// tryLockTask acquires path locks for the task's selected paths. On
// conflict the task is re-queued with an event and nil is returned.
func (d *Daemon) tryLockTask(task store.TaskRecord, workerID string) (*locks.Handle, error) {
	selected := stringsFromMetadata(task.Metadata, "selected_paths")
	if len(selected) == 0 {
		return &locks.Handle{}, nil
	}
	handle, err := locks.AcquireLocks(selected, d.locksDir(), task.ID, workerID)
	if err != nil {
		return nil, err
	}
	if handle.Empty() {
		if _, err := d.store.UpdateTaskState(task.ID, store.TaskUpdate{
			State:     store.StateQueued,
			ClearLock: true,
		}); err != nil {
			return nil, err
		}
		if pl, err := plan.Load(d.planPathForTask(task)); err == nil {
			if paths, err := bundle.Ensure(task.BundlePath, task.ID, pl, nil, task.Metadata); err == nil {
				d.appendEvent(paths, bundle.Event{
					"task_id": task.ID,
					"event":   "task_lock_failed",
					"state":   "queued",
					"message": cwerrors.ErrLockBusy.Error(),
				})
			}
		}
		return nil, nil
	}
	return handle, nil
}

func (d *Daemon) locksDir() string {
	return filepath.Join(d.stateDir, "locks")
}

// planPathForTask prefers the immutable bundle copy of the plan; the
// originally submitted path is only a fallback.
func (d *Daemon) planPathForTask(task store.TaskRecord) string {
	bundlePlan := bundle.BundlePaths(task.BundlePath).PlanPath
	if _, err := os.Stat(bundlePlan); err == nil {
		return bundlePlan
	}
	return task.PlanPath
}

func (d *Daemon) loadResumeState(paths bundle.Paths) *runstate.State {
	if _, err := os.Stat(paths.ResumeStatePath); err != nil {
		return nil
	}
	state, err := runstate.Load(paths.ResumeStatePath)
	if err != nil {
		return nil
	}
	return &state
}

// resolveApproval looks up the most specific recorded approval for the
// plan's pending checkpoint (or the plan level when none is pending).
func (d *Daemon) resolveApproval(planHash, checkpointID string) (*approval.Approval, error) {
	record, err := d.store.LatestApproval(planHash, checkpointID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	appr := approval.Approval{
		PlanHash:   record.PlanHash,
		ApprovedAt: record.ApprovedAt,
		ApprovedBy: record.ApprovedBy,
	}
	if record.CheckpointID != nil {
		appr.CheckpointID = *record.CheckpointID
	}
	return &appr, nil
}

func (d *Daemon) parkWaitingApproval(task store.TaskRecord, paths bundle.Paths, planHash, checkpointID string) {
	if _, err := d.store.UpdateTaskState(task.ID, store.TaskUpdate{
		State:          store.StateWaitingApproval,
		NextCheckpoint: nullableCheckpoint(checkpointID),
	}); err != nil {
		d.log.Error("failed to park task", "task_id", task.ID, "error", err)
	}
	d.appendEvent(paths, bundle.Event{
		"task_id":       task.ID,
		"event":         "task_waiting_approval",
		"state":         "waiting_approval",
		"checkpoint_id": checkpointID,
	})
	d.snapshot(paths, task, planHash, store.StateWaitingApproval, "")
}

// finishTask records a terminal state in the store and mirrors it into the
// bundle.
func (d *Daemon) finishTask(task store.TaskRecord, pl *plan.Plan, planHash string, state store.TaskState, errMsg string) {
	upd := store.TaskUpdate{State: state, ClearLock: true}
	if errMsg != "" {
		upd.Error = &errMsg
	}
	if _, err := d.store.UpdateTaskState(task.ID, upd); err != nil {
		d.log.Error("failed to finish task", "task_id", task.ID, "error", err)
	}
	paths, err := bundle.Ensure(task.BundlePath, task.ID, pl, nil, task.Metadata)
	if err != nil {
		return
	}
	event := bundle.Event{
		"task_id": task.ID,
		"event":   "task_" + string(state),
		"state":   string(state),
	}
	if errMsg != "" {
		event["error"] = errMsg
	}
	d.appendEvent(paths, event)
	d.snapshot(paths, task, planHash, state, errMsg)
}

func (d *Daemon) recordCancellation(task store.TaskRecord) {
	pl, err := plan.Load(d.planPathForTask(task))
	if err != nil {
		return
	}
	paths, err := bundle.Ensure(task.BundlePath, task.ID, pl, nil, task.Metadata)
	if err != nil {
		return
	}
	d.appendEvent(paths, bundle.Event{
		"task_id": task.ID,
		"event":   "task_canceled",
		"state":   "canceled",
	})
	d.snapshot(paths, task, task.PlanHash, store.StateCanceled, "")
}

func (d *Daemon) appendEvent(paths bundle.Paths, event bundle.Event) {
	if err := bundle.AppendEvent(paths, event); err != nil {
		d.log.Error("failed to append bundle event", "error", err)
	}
}

func (d *Daemon) snapshot(paths bundle.Paths, task store.TaskRecord, planHash string, state store.TaskState, errMsg string) {
	if err := bundle.UpdateTaskSnapshot(paths, bundle.Snapshot{
		TaskID:   task.ID,
		PlanHash: planHash,
		State:    string(state),
		Metadata: task.Metadata,
		Error:    errMsg,
	}); err != nil {
		d.log.Error("failed to update task snapshot", "task_id", task.ID, "error", err)
	}
}

// Run polls the queue until ctx is done, spreading each pass over the
// configured worker count. A filesystem watcher on the state directory cuts
// the latency between a submit or approve and the next pass; the poll loop
// remains the correctness mechanism.
func (d *Daemon) Run(ctx context.Context, workerBase string) error {
	wake := d.watchStateDir(ctx)
	poll := d.cfg.Runtime.PollInterval()
	if poll <= 0 {
		poll = 2 * time.Second
	}
	workers := d.cfg.Runtime.Workers
	if workers < 1 {
		workers = 1
	}

	for {
		hadTask := false
		for idx := 0; idx < workers; idx++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			workerID := workerBase
			if workers > 1 {
				workerID = fmt.Sprintf("%s-%d", workerBase, idx+1)
			}
			result, err := d.RunOnce(ctx, workerID)
			if err != nil {
				d.log.Error("daemon pass failed", "worker_id", workerID, "error", err)
				continue
			}
			if result.Task != nil {
				hadTask = true
			}
		}
		if hadTask {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-time.After(poll):
		}
	}
}

// watchStateDir returns a channel that receives whenever the state
// directory changes. The watcher is best effort: on any failure the channel
// simply never fires and polling covers for it.
func (d *Daemon) watchStateDir(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn("state dir watcher unavailable", "error", err)
		return wake
	}
	if err := watcher.Add(d.stateDir); err != nil {
		d.log.Warn("state dir watch failed", "path", d.stateDir, "error", err)
		watcher.Close()
		return wake
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake
}

func resolveCheckpointID(checkpoints []string, resume *runstate.State) string {
	if resume != nil {
		return resume.NextCheckpoint
	}
	if len(checkpoints) > 0 {
		return checkpoints[0]
	}
	return ""
}

func nullableCheckpoint(checkpointID string) store.NullableUpdate {
	if checkpointID == "" {
		return store.SetNull()
	}
	return store.SetValue(checkpointID)
}

func stringsFromMetadata(metadata map[string]any, key string) []string {
	raw, ok := metadata[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		// Metadata written in-process may carry []string directly.
		if direct, ok := raw.([]string); ok {
			return direct
		}
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
