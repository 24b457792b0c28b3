package coworker

import (
	"github.com/coworkerhq/coworker/internal/approval"
	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/executor"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
	"github.com/coworkerhq/coworker/internal/registry"
	"github.com/coworkerhq/coworker/internal/runstate"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Execute a plan",
	Long: `Execute a plan's tool calls in order. When approvals are required,
the token from --approval-file must match the plan hash (and the
pending checkpoint, if any). With --checkpoint, execution pauses at
each checkpoint and writes resume state; pass it back via
--resume-state to continue.`,
	RunE: runApply,
}

var (
	applyPlan        string
	applyApproval    string
	applyResumeState string
	applyCheckpoint  bool
	applyPaths       []string
	applyAllowRoots  []string
)

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVar(&applyPlan, "plan", "", "Plan JSON path")
	applyCmd.Flags().StringVar(&applyApproval, "approval-file", "", "Approval token path (required if approvals enabled)")
	applyCmd.Flags().StringVar(&applyResumeState, "resume-state", "", "Resume state path from a prior checkpoint run")
	applyCmd.Flags().BoolVar(&applyCheckpoint, "checkpoint", false, "Stop at checkpoints and write resume state")
	applyCmd.Flags().StringSliceVar(&applyPaths, "paths", nil, "Selected files/folders to scope access")
	applyCmd.Flags().StringArrayVar(&applyAllowRoots, "allow-root", nil, "Additional allowed root (repeatable)")
	_ = applyCmd.MarkFlagRequired("plan")
}

func runApply(cmd *cobra.Command, args []string) error {
	planPath := policy.ResolvePath(applyPlan)
	pl, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	cfg := config.Get()
	pol := buildPolicy(cfg, resolvePaths(applyPaths), resolvePaths(applyAllowRoots))

	var appr *approval.Approval
	if applyApproval != "" {
		loaded, err := approval.Load(policy.ResolvePath(applyApproval))
		if err != nil {
			return err
		}
		appr = &loaded
	}
	var resume *runstate.State
	if applyResumeState != "" {
		loaded, err := runstate.Load(policy.ResolvePath(applyResumeState))
		if err != nil {
			return err
		}
		resume = &loaded
	}

	results, state, err := executor.New(pol, registry.Default()).
		ApplyPlanWithState(cmd.Context(), pl, appr, resume, applyCheckpoint)
	if err != nil {
		return err
	}
	for _, result := range results {
		cmd.Println(result)
	}
	if state != nil {
		statePath := applyResumeState
		if statePath == "" {
			statePath = siblingPath(planPath, ".state.json")
		} else {
			statePath = policy.ResolvePath(statePath)
		}
		if err := runstate.Write(statePath, *state); err != nil {
			return err
		}
		cmd.Printf("Checkpoint reached. Resume state: %s\n", statePath)
	}
	return nil
}
