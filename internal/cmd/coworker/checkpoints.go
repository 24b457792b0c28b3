package coworker

import (
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List checkpoint ids for a plan",
	RunE:  runCheckpoints,
}

var checkpointsPlan string

func init() {
	rootCmd.AddCommand(checkpointsCmd)

	checkpointsCmd.Flags().StringVar(&checkpointsPlan, "plan", "", "Plan JSON path")
	_ = checkpointsCmd.MarkFlagRequired("plan")
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	pl, err := plan.Load(checkpointsPlan)
	if err != nil {
		return err
	}
	checkpoints := pl.Checkpoints()
	if len(checkpoints) == 0 {
		cmd.Println("No checkpoints defined.")
		return nil
	}
	for _, checkpoint := range checkpoints {
		cmd.Println(checkpoint)
	}
	return nil
}
