package runtime

import (
	"fmt"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/launchd"
	"github.com/coworkerhq/coworker/internal/policy"
	"github.com/spf13/cobra"
)

var plistCmd = &cobra.Command{
	Use:   "print-plist",
	Short: "Print a LaunchAgent plist for the daemon",
	Long: `Render a launchd job definition that keeps the runtime daemon
running. Write the output to ~/Library/LaunchAgents and load it with
launchctl; --enable-runtime-env embeds COWORKER_RUNTIME_ENABLED=1 so
the job runs without a config file change.`,
	RunE: runPrintPlist,
}

var (
	plistLabel       string
	plistProgram     string
	plistWorkers     int
	plistPollSeconds float64
	plistWorkerID    string
	plistStdoutPath  string
	plistStderrPath  string
	plistEnableEnv   bool
)

func init() {
	rootCmd.AddCommand(plistCmd)

	plistCmd.Flags().StringVar(&plistLabel, "label", launchd.DefaultLabel, "LaunchAgent label")
	plistCmd.Flags().StringVar(&plistProgram, "program", "", "Path to the coworker-runtime binary (defaults to PATH lookup)")
	plistCmd.Flags().IntVar(&plistWorkers, "workers", 0, "Worker count override")
	plistCmd.Flags().Float64Var(&plistPollSeconds, "poll-seconds", 0, "Polling interval when idle")
	plistCmd.Flags().StringVar(&plistWorkerID, "worker-id", "", "Worker identifier")
	plistCmd.Flags().StringVar(&plistStdoutPath, "stdout-path", "", "Override StandardOutPath (defaults to /tmp)")
	plistCmd.Flags().StringVar(&plistStderrPath, "stderr-path", "", "Override StandardErrorPath (defaults to /tmp)")
	plistCmd.Flags().BoolVar(&plistEnableEnv, "enable-runtime-env", false, "Include COWORKER_RUNTIME_ENABLED=1 in EnvironmentVariables")
}

func runPrintPlist(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	program := launchd.ResolveProgramPath(plistProgram)
	if program == "" {
		return fmt.Errorf("unable to resolve program path; use --program to specify a binary")
	}

	workers := plistWorkers
	if workers == 0 && cfg.Runtime.Workers > 1 {
		workers = cfg.Runtime.Workers
	}
	if workers < 0 {
		return fmt.Errorf("worker count must be >= 1")
	}
	if plistPollSeconds < 0 {
		return fmt.Errorf("poll seconds must be > 0")
	}

	stdoutPath := plistStdoutPath
	if stdoutPath != "" {
		stdoutPath = policy.ResolvePath(stdoutPath)
	}
	stderrPath := plistStderrPath
	if stderrPath != "" {
		stderrPath = policy.ResolvePath(stderrPath)
	}

	cmd.Print(launchd.Render(launchd.Options{
		Program:          program,
		Label:            plistLabel,
		StateDir:         cfg.Runtime.ResolveStateDir(stateDirFlag),
		Workers:          workers,
		PollSeconds:      plistPollSeconds,
		WorkerID:         plistWorkerID,
		StdoutPath:       stdoutPath,
		StderrPath:       stderrPath,
		EnableRuntimeEnv: plistEnableEnv,
	}))
	return nil
}
