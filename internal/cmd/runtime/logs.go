package runtime

import (
	"os"
	"path/filepath"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show a task's event log",
	Long:  `Print the task bundle's events.jsonl: one JSON object per state transition and tool call.`,
	RunE:  runLogs,
}

var logsTask string

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsTask, "task", "", "Task id")
	_ = logsCmd.MarkFlagRequired("task")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := requireRuntimeEnabled(cfg); err != nil {
		return err
	}
	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.GetTask(logsTask)
	if err != nil {
		return err
	}
	eventsPath := filepath.Join(task.BundlePath, "events.jsonl")
	data, err := os.ReadFile(eventsPath)
	if os.IsNotExist(err) {
		cmd.Println("No events yet.")
		return nil
	}
	if err != nil {
		return err
	}
	cmd.Print(string(data))
	return nil
}
