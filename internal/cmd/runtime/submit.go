package runtime

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coworkerhq/coworker/internal/bundle"
	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
	"github.com/coworkerhq/coworker/internal/store"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a plan as a task",
	Long: `Queue a plan for daemon execution. The plan's hash is stamped and
rewritten in place, a bundle directory is created under the state dir
(plan copy, preview, snapshot, event log), and a queued task row is
inserted. Selected paths and extra roots are recorded on the task so
workers rebuild the same policy the submitter saw.`,
	RunE: runSubmit,
}

var (
	submitPlan       string
	submitBundleRoot string
	submitMetadata   string
	submitPaths      []string
	submitAllowRoots []string
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitPlan, "plan", "", "Plan JSON path")
	submitCmd.Flags().StringVar(&submitBundleRoot, "bundle-root", "", "Bundle directory (defaults under state dir)")
	submitCmd.Flags().StringVar(&submitMetadata, "metadata", "", "Extra metadata JSON to store on the task")
	submitCmd.Flags().StringSliceVar(&submitPaths, "paths", nil, "Selected files/folders to scope access")
	submitCmd.Flags().StringArrayVar(&submitAllowRoots, "allow-root", nil, "Additional allowed root (repeatable)")
	_ = submitCmd.MarkFlagRequired("plan")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := requireRuntimeEnabled(cfg); err != nil {
		return err
	}

	planPath := policy.ResolvePath(submitPlan)
	pl, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	planHash := pl.EnsureHash()
	if err := pl.Write(planPath); err != nil {
		return err
	}

	selected := resolvePaths(submitPaths)
	extraRoots := resolvePaths(submitAllowRoots)
	pol := policy.New(cfg.Policy.Limits(), selected, extraRoots)
	if len(pol.AllowedRoots) == 0 {
		return fmt.Errorf("no allowed roots configured; provide --paths/--allow-root or set policy.allowed_paths")
	}

	st, stateDir, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	taskID := store.NewTaskID()
	bundleRoot := submitBundleRoot
	if bundleRoot == "" {
		bundleRoot = filepath.Join(stateDir, "bundles", taskID)
	} else {
		bundleRoot = policy.ResolvePath(bundleRoot)
	}

	metadata := map[string]any{}
	if len(selected) > 0 {
		metadata["selected_paths"] = selected
	}
	if len(extraRoots) > 0 {
		metadata["allow_roots"] = extraRoots
	}
	if submitMetadata != "" {
		extra, err := decodeMetadata(submitMetadata)
		if err != nil {
			return fmt.Errorf("invalid metadata JSON: %w", err)
		}
		for k, v := range extra {
			metadata[k] = v
		}
	}
	metadata["allowed_roots"] = pol.AllowedRoots

	paths, err := bundle.Init(bundleRoot, taskID, pl, plan.BuildPreview(pl), metadata)
	if err != nil {
		return err
	}

	if _, err := st.CreateTask(store.CreateTaskParams{
		TaskID:     taskID,
		PlanHash:   planHash,
		PlanPath:   planPath,
		BundlePath: bundleRoot,
		Metadata:   metadata,
	}); err != nil {
		return err
	}

	if err := bundle.AppendEvent(paths, bundle.Event{
		"task_id": taskID,
		"event":   "task_created",
		"state":   string(store.StateQueued),
	}); err != nil {
		return err
	}

	cmd.Printf("Task queued: %s\n", taskID)
	cmd.Printf("Bundle: %s\n", bundleRoot)
	return nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
