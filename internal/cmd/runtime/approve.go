package runtime

import (
	"github.com/coworkerhq/coworker/internal/config"
	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Record an approval for a plan hash",
	Long: `Record an approval in the task store. Parked waiting_approval tasks
whose plan hash (and pending checkpoint, if any) match the approval
are picked up by the daemon on its next pass.`,
	RunE: runApprove,
}

var (
	approvePlanHash     string
	approveCheckpointID string
	approveBy           string
)

func init() {
	rootCmd.AddCommand(approveCmd)

	approveCmd.Flags().StringVar(&approvePlanHash, "plan-hash", "", "Plan hash to approve")
	approveCmd.Flags().StringVar(&approveCheckpointID, "checkpoint-id", "", "Checkpoint id to approve")
	approveCmd.Flags().StringVar(&approveBy, "approved-by", "", "Approval identity (default: $USER)")
	_ = approveCmd.MarkFlagRequired("plan-hash")
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := requireRuntimeEnabled(cfg); err != nil {
		return err
	}
	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.RecordApproval(approvePlanHash, approver(approveBy), approveCheckpointID); err != nil {
		return err
	}
	cmd.Println("Approval recorded.")
	return nil
}
