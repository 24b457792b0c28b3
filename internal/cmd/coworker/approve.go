package coworker

import (
	"github.com/coworkerhq/coworker/internal/approval"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Write an approval token for a plan",
	Long: `Stamp the plan's content hash and write an approval token bound to
it. When the plan defines checkpoints, pass --checkpoint-id to approve
the segment ending at that checkpoint; apply rejects tokens whose
checkpoint does not match the one it is about to run toward.`,
	RunE: runApprove,
}

var (
	approvePlan         string
	approveFile         string
	approveCheckpointID string
	approveBy           string
)

func init() {
	rootCmd.AddCommand(approveCmd)

	approveCmd.Flags().StringVar(&approvePlan, "plan", "", "Plan JSON path")
	approveCmd.Flags().StringVar(&approveFile, "approval-file", "", "Approval token output path")
	approveCmd.Flags().StringVar(&approveCheckpointID, "checkpoint-id", "", "Checkpoint id to approve")
	approveCmd.Flags().StringVar(&approveBy, "approved-by", "", "Approval identity (default: $USER)")
	_ = approveCmd.MarkFlagRequired("plan")
}

func runApprove(cmd *cobra.Command, args []string) error {
	planPath := policy.ResolvePath(approvePlan)
	pl, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	planHash := pl.EnsureHash()
	if err := pl.Write(planPath); err != nil {
		return err
	}

	token := approval.Build(planHash, approver(approveBy), approveCheckpointID)
	approvalPath := approveFile
	if approvalPath == "" {
		approvalPath = siblingPath(planPath, ".approval.json")
	} else {
		approvalPath = policy.ResolvePath(approvalPath)
	}
	if err := approval.Write(approvalPath, token); err != nil {
		return err
	}
	cmd.Printf("Approval written: %s\n", approvalPath)
	return nil
}
