package coworker

import (
	"strings"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/executor"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/registry"
	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview a plan against policy",
	Long: `Validate a plan against the allowlist policy and print a
human-readable summary of every tool call. With --include-diffs,
propose_write_file calls render a unified diff against the current
file content.`,
	RunE: runPreview,
}

var (
	previewPlan         string
	previewPaths        []string
	previewAllowRoots   []string
	previewIncludeDiffs bool
)

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().StringVar(&previewPlan, "plan", "", "Plan JSON path")
	previewCmd.Flags().StringSliceVar(&previewPaths, "paths", nil, "Selected files/folders to scope access")
	previewCmd.Flags().StringArrayVar(&previewAllowRoots, "allow-root", nil, "Additional allowed root (repeatable)")
	previewCmd.Flags().BoolVar(&previewIncludeDiffs, "include-diffs", false, "Include diffs for propose_write_file calls")
	_ = previewCmd.MarkFlagRequired("plan")
}

func runPreview(cmd *cobra.Command, args []string) error {
	pl, err := plan.Load(previewPlan)
	if err != nil {
		return err
	}
	cfg := config.Get()
	pol := buildPolicy(cfg, resolvePaths(previewPaths), resolvePaths(previewAllowRoots))

	lines, err := executor.New(pol, registry.Default()).PreviewPlan(pl, previewIncludeDiffs)
	if err != nil {
		return err
	}
	cmd.Println(strings.Join(lines, "\n"))
	return nil
}
