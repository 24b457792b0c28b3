package runtime

import (
	"sort"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task counts by state",
	RunE:  runStatus,
}

var statusState string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusState, "state", "", "Filter to a state")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := requireRuntimeEnabled(cfg); err != nil {
		return err
	}
	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.CountTasksByState(store.TaskState(statusState))
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		cmd.Println("No tasks.")
		return nil
	}
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		cmd.Printf("%s: %d\n", state, counts[store.TaskState(state)])
	}
	return nil
}
