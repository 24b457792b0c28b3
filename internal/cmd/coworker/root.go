// Package coworker implements the `coworker` command line: building plan
// documents, previewing them against policy, and applying them directly
// with approval tokens and checkpoint resume state.
package coworker

import (
	"strings"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "coworker",
	Short: "Plan and apply reviewable local task runs",
	Long: `Coworker turns file and web operations into declarative plans:
JSON documents listing tool calls that are validated against an
allowlist policy, previewed as human-readable summaries and diffs,
and only executed once an approval token matching the plan's content
hash is presented.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps the Execute result to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/coworker/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
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
	// Replace dots with underscores for nested keys in env vars
	// e.g., COWORKER_RUNTIME_ENABLED for runtime.enabled
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
