package coworker

import (
	"fmt"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/planner"
	"github.com/spf13/cobra"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Build a summary plan for selected documents",
	Long: `Build a plan that writes one summary note per selected document.
Text is extracted up front (PDFs via pdftotext, optionally OCR) so the
note content is fixed before approval; each note is emitted as a
propose/apply pair so the preview shows the full diff.`,
	RunE: runSummarize,
}

var (
	summarizePaths    []string
	summarizeOut      string
	summarizeMaxChars int
)

func init() {
	rootCmd.AddCommand(summarizeCmd)

	summarizeCmd.Flags().StringSliceVar(&summarizePaths, "paths", nil, "Files to summarize")
	summarizeCmd.Flags().StringVar(&summarizeOut, "out", "", "Plan JSON output path")
	summarizeCmd.Flags().IntVar(&summarizeMaxChars, "max-chars", 0, "Max chars extracted per file (default from config)")
	_ = summarizeCmd.MarkFlagRequired("paths")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	paths := resolvePaths(summarizePaths)
	if len(paths) == 0 {
		return fmt.Errorf("provide at least one file to summarize")
	}
	cfg := config.Get()

	maxChars := summarizeMaxChars
	if maxChars <= 0 {
		maxChars = cfg.Policy.MaxReadBytes
	}
	p, err := planner.BuildSummaryPlan(cmd.Context(), paths, planner.SummaryOptions{
		MaxChars:        maxChars,
		OCRMode:         cfg.Policy.OCRMode,
		CheckpointEvery: cfg.Policy.CheckpointEveryWrites,
	})
	if err != nil {
		return err
	}

	planPath := defaultPlanPath(summarizeOut, paths)
	if err := p.Write(planPath); err != nil {
		return err
	}
	cmd.Printf("Plan written: %s\n", planPath)
	return nil
}
