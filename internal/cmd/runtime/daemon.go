package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/daemon"
	"github.com/coworkerhq/coworker/internal/logging"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the worker loop",
	Long: `Run workers that claim queued tasks, execute their plans under
policy, park them at approval gates, and resume them once approvals
arrive. With --once each worker makes a single pass and the command
exits; otherwise the loop polls (and watches the state directory)
until interrupted.`,
	RunE: runDaemon,
}

var (
	daemonWorkerID    string
	daemonWorkers     int
	daemonOnce        bool
	daemonPollSeconds float64
)

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonWorkerID, "worker-id", "", "Worker identifier (default: worker-<pid>)")
	daemonCmd.Flags().IntVar(&daemonWorkers, "workers", 0, "Worker count override")
	daemonCmd.Flags().BoolVar(&daemonOnce, "once", false, "Run a single iteration per worker")
	daemonCmd.Flags().Float64Var(&daemonPollSeconds, "poll-seconds", 0, "Polling interval when idle")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := requireRuntimeEnabled(cfg); err != nil {
		return err
	}
	if daemonWorkers > 0 {
		cfg.Runtime.Workers = daemonWorkers
	}
	if daemonPollSeconds > 0 {
		cfg.Runtime.PollSeconds = daemonPollSeconds
	}

	st, stateDir, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log, err := logging.NewLogger(stateDir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	workerBase := daemonWorkerID
	if workerBase == "" {
		workerBase = fmt.Sprintf("worker-%d", os.Getpid())
	}
	d := daemon.New(st, cfg, stateDir, daemon.WithLogger(log))

	if daemonOnce {
		workers := cfg.Runtime.Workers
		if workers < 1 {
			workers = 1
		}
		for idx := 0; idx < workers; idx++ {
			workerID := workerBase
			if workers > 1 {
				workerID = fmt.Sprintf("%s-%d", workerBase, idx+1)
			}
			result, err := d.RunOnce(cmd.Context(), workerID)
			if err != nil {
				return err
			}
			cmd.Println(result.Message)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx, workerBase); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cmd.Println("Daemon stopped.")
	return nil
}
