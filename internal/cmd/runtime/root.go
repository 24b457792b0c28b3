// Package runtime implements the `coworker-runtime` command line: the
// durable task queue around the plan executor. Tasks are submitted into a
// SQLite-backed store and processed by daemon workers; every subcommand
// except print-plist requires the runtime to be enabled in configuration.
package runtime

import (
	"errors"
	"strings"

	"github.com/coworkerhq/coworker/internal/config"
	cwerrors "github.com/coworkerhq/coworker/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "coworker-runtime",
	Short: "Durable task queue for coworker plans",
	Long: `The coworker runtime queues submitted plans as tasks in a SQLite
store, hands them to daemon workers under per-path locks, and parks
them as waiting_approval until a matching approval is recorded. Each
task owns a bundle directory with its plan copy, preview, event log
and resume state.`,
	SilenceUsage: true,
}

var stateDirFlag string

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps the Execute result to a process exit status: 0 on
// success, 2 when a referenced task does not exist, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cwerrors.ErrTaskNotFound):
		return 2
	default:
		return 1
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "Runtime state directory override")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/coworker/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/coworker")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("COWORKER")
	// COWORKER_RUNTIME_ENABLED=1 flips runtime.enabled without a config file
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
