package runtime

import (
	"os"
	"path/filepath"

	"github.com/coworkerhq/coworker/internal/bundle"
	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/locks"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/store"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a task",
	Long: `Mark a task canceled and release its path locks. A task that is
currently running keeps its lock row until the worker observes the
cancellation; terminal tasks are left untouched.`,
	RunE: runCancel,
}

var cancelTask string

func init() {
	rootCmd.AddCommand(cancelCmd)

	cancelCmd.Flags().StringVar(&cancelTask, "task", "", "Task id")
	_ = cancelCmd.MarkFlagRequired("task")
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := requireRuntimeEnabled(cfg); err != nil {
		return err
	}
	st, stateDir, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.GetTask(cancelTask)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		cmd.Printf("Task already %s; cancel ignored.\n", task.State)
		return nil
	}
	wasRunning := task.State == store.StateRunning

	cancelReason := "canceled by user"
	task, err = st.UpdateTaskState(task.ID, store.TaskUpdate{
		State:     store.StateCanceled,
		Error:     &cancelReason,
		ClearLock: !wasRunning,
	})
	if err != nil {
		return err
	}

	// A running worker still holds the locks and releases them itself once
	// it observes the cancellation.
	if selected := metadataStrings(task.Metadata, "selected_paths"); len(selected) > 0 && !wasRunning {
		locks.ReleaseTaskLocks(selected, filepath.Join(stateDir, "locks"), task.ID)
	}

	if _, err := os.Stat(task.BundlePath); err == nil {
		recordCancellation(task, cancelReason)
	}
	cmd.Printf("Task canceled: %s\n", task.ID)
	return nil
}

// recordCancellation mirrors the cancellation into the bundle. Best effort:
// the authoritative state lives in the store.
func recordCancellation(task store.TaskRecord, reason string) {
	paths := bundle.BundlePaths(task.BundlePath)
	pl := loadTaskPlan(task)
	if pl != nil {
		if ensured, err := bundle.Ensure(task.BundlePath, task.ID, pl, plan.BuildPreview(pl), task.Metadata); err == nil {
			paths = ensured
		}
	}
	_ = bundle.AppendEvent(paths, bundle.Event{
		"task_id": task.ID,
		"event":   "task_canceled",
		"state":   string(store.StateCanceled),
	})
	_ = bundle.UpdateTaskSnapshot(paths, bundle.Snapshot{
		TaskID:    task.ID,
		PlanHash:  task.PlanHash,
		State:     string(store.StateCanceled),
		UpdatedAt: plan.UTCNow(),
		Metadata:  task.Metadata,
		Error:     reason,
	})
}

// loadTaskPlan prefers the bundle's plan copy over the submitted path.
func loadTaskPlan(task store.TaskRecord) *plan.Plan {
	for _, candidate := range []string{
		filepath.Join(task.BundlePath, "plan.json"),
		task.PlanPath,
	} {
		if pl, err := plan.Load(candidate); err == nil {
			return pl
		}
	}
	return nil
}

// metadataStrings pulls a string list out of decoded task metadata.
func metadataStrings(metadata map[string]any, key string) []string {
	if metadata == nil {
		return nil
	}
	switch v := metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
