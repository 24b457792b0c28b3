package coworker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coworkerhq/coworker/internal/planner"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a plan from tool/args pairs",
	Long: `Build a plan document from explicit tool calls. Each --tool flag is
paired with an --args flag carrying the call's arguments as JSON; the
flags repeat for multiple calls and are matched positionally.

Examples:
  # A single write
  coworker plan --tool fs.apply_write_file \
    --args '{"path": "/tmp/notes.md", "content": "hello"}'

  # A move with an automatic rollback, checkpointed every 2 writes
  coworker plan --tool fs.move --args '{"path": "/a/x", "dst": "/a/y"}' \
    --checkpoint-every 2 --out move-plan.json`,
	RunE: runPlan,
}

var (
	planTools           []string
	planArgs            []string
	planInstruction     string
	planPaths           []string
	planOut             string
	planCheckpointEvery int
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringArrayVar(&planTools, "tool", nil, "Tool name (repeatable, paired with --args)")
	planCmd.Flags().StringArrayVar(&planArgs, "args", nil, "Tool args as JSON (repeatable, paired with --tool)")
	planCmd.Flags().StringVar(&planInstruction, "instruction", "", "Instruction text recorded on the plan")
	planCmd.Flags().StringSliceVar(&planPaths, "paths", nil, "Selected files/folders the plan targets")
	planCmd.Flags().StringVar(&planOut, "out", "", "Plan JSON output path")
	planCmd.Flags().IntVar(&planCheckpointEvery, "checkpoint-every", 0, "Insert a checkpoint after every N writes (0 disables)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	if len(planTools) == 0 || len(planArgs) == 0 {
		return fmt.Errorf("planning requires --tool and --args")
	}
	if len(planTools) != len(planArgs) {
		return fmt.Errorf("--tool and --args must be provided in pairs")
	}

	calls := make([]planner.RawCall, 0, len(planTools))
	for i, tool := range planTools {
		parsed, err := decodeArgs(planArgs[i])
		if err != nil {
			return fmt.Errorf("invalid JSON args for %s: %w", tool, err)
		}
		calls = append(calls, planner.RawCall{Tool: tool, Args: parsed})
	}

	p, err := planner.BuildManualPlan(calls, planInstruction, planCheckpointEvery)
	if err != nil {
		return err
	}

	planPath := defaultPlanPath(planOut, resolvePaths(planPaths))
	if err := p.Write(planPath); err != nil {
		return err
	}
	cmd.Printf("Plan written: %s\n", planPath)
	return nil
}

// decodeArgs parses a JSON object keeping numbers as json.Number, matching
// how plan documents are loaded from disk.
func decodeArgs(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
