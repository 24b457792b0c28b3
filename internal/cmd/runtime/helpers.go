package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coworkerhq/coworker/internal/config"
	cwerrors "github.com/coworkerhq/coworker/internal/errors"
	"github.com/coworkerhq/coworker/internal/policy"
	"github.com/coworkerhq/coworker/internal/store"
)

// requireRuntimeEnabled gates every queue-touching command behind the
// runtime.enabled switch.
func requireRuntimeEnabled(cfg *config.Config) error {
	if cfg.Runtime.Enabled {
		return nil
	}
	return fmt.Errorf("%w; set runtime.enabled=true in config or export COWORKER_RUNTIME_ENABLED=1",
		cwerrors.ErrRuntimeDisabled)
}

// openStore resolves the state directory and opens (creating if needed)
// the task database inside it.
func openStore(cfg *config.Config) (*store.Store, string, error) {
	stateDir := cfg.Runtime.ResolveStateDir(stateDirFlag)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create state directory: %w", err)
	}
	st, err := store.Open(filepath.Join(stateDir, "tasks.db"))
	if err != nil {
		return nil, "", err
	}
	return st, stateDir, nil
}

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
