package runtime

import (
	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/store"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runList,
}

var listState string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listState, "state", "", "Filter to a state")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := requireRuntimeEnabled(cfg); err != nil {
		return err
	}
	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.ListTasks(store.TaskState(listState), 100, 0)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		cmd.Println("No tasks.")
		return nil
	}
	for _, task := range tasks {
		cmd.Printf("%s state=%s plan=%s\n", task.ID, task.State, task.PlanPath)
	}
	return nil
}
