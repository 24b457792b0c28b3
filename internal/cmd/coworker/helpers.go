package coworker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coworkerhq/coworker/internal/config"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
)

// resolvePaths expands and absolutizes user-supplied paths.
func resolvePaths(raw []string) []string {
	resolved := make([]string, 0, len(raw))
	for _, r := range raw {
		if r == "" {
			continue
		}
		resolved = append(resolved, policy.ResolvePath(r))
	}
	return resolved
}

// buildPolicy combines the configured limits with the paths selected for
// this invocation.
func buildPolicy(cfg *config.Config, selected, extraRoots []string) *policy.Policy {
	return policy.New(cfg.Policy.Limits(), selected, extraRoots)
}

// defaultPlanPath picks the output location for a generated plan: the --out
// flag when given, otherwise a timestamped file under .coworker/ next to
// the first selected path (or the working directory).
func defaultPlanPath(out string, selected []string) string {
	if out != "" {
		return policy.ResolvePath(out)
	}
	root := ""
	if len(selected) > 0 {
		root = selected[0]
		if info, err := os.Stat(root); err == nil && !info.IsDir() {
			root = filepath.Dir(root)
		}
	} else if cwd, err := os.Getwd(); err == nil {
		root = cwd
	} else {
		root = "."
	}
	name := fmt.Sprintf("coworker-plan-%s.json", plan.UTCNow())
	return filepath.Join(root, ".coworker", name)
}

// siblingPath swaps the plan file's extension for the given suffix, so
// plan.json gains plan.approval.json and plan.state.json companions.
func siblingPath(planPath, suffix string) string {
	return strings.TrimSuffix(planPath, filepath.Ext(planPath)) + suffix
}

// approver resolves the identity recorded on approvals.
func approver(override string) string {
	if override != "" {
		return override
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}
