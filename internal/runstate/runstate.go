// Package runstate persists executor progress between runs so a paused or
// interrupted plan resumes where it stopped instead of replaying completed
// calls.
package runstate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/coworkerhq/coworker/internal/plan"
)

// State is the resume snapshot for one plan run. NextCheckpoint is empty
// once the final checkpoint has been approved and consumed.
type State struct {
	PlanHash       string   `json:"plan_hash"`
	CompletedIDs   []string `json:"completed_ids"`
	NextCheckpoint string   `json:"next_checkpoint,omitempty"`
	UpdatedAt      string   `json:"updated_at"`
}

// Build creates a State stamped with the current UTC time.
func Build(planHash string, completedIDs []string, nextCheckpoint string) State {
	if completedIDs == nil {
		completedIDs = []string{}
	}
	return State{
		PlanHash:       planHash,
		CompletedIDs:   completedIDs,
		NextCheckpoint: nextCheckpoint,
		UpdatedAt:      plan.UTCNow(),
	}
}

// Completed reports whether the given tool call already ran.
func (s State) Completed(id string) bool {
	for _, done := range s.CompletedIDs {
		if done == id {
			return true
		}
	}
	return false
}

// Load reads a resume state from disk.
func Load(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// Write persists the state as indented JSON, creating parent directories as
// needed.
func Write(path string, s State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
