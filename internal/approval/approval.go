// Package approval records and checks user approvals of plans. An approval
// binds to an exact plan hash and, optionally, to one checkpoint; a
// plan-level approval never satisfies a checkpoint gate and vice versa.
package approval

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/coworkerhq/coworker/internal/plan"
)

// Approval is one recorded approval decision.
type Approval struct {
	PlanHash     string `json:"plan_hash"`
	ApprovedAt   string `json:"approved_at"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Build creates an approval for the given plan hash. approvedBy and
// checkpointID are optional; empty strings are omitted from the record.
func Build(planHash, approvedBy, checkpointID string) Approval {
	return Approval{
		PlanHash:     planHash,
		ApprovedAt:   plan.UTCNow(),
		ApprovedBy:   approvedBy,
		CheckpointID: checkpointID,
	}
}

// Matches reports whether the approval satisfies a gate for planHash at
// checkpointID. An empty checkpointID means the plan-level gate, which only
// an approval without a checkpoint satisfies; a checkpoint gate requires an
// approval for that exact checkpoint.
func (a Approval) Matches(planHash, checkpointID string) bool {
	if a.PlanHash != planHash {
		return false
	}
	return a.CheckpointID == checkpointID
}

// Load reads an approval record from disk.
func Load(path string) (Approval, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Approval{}, err
	}
	var a Approval
	if err := json.Unmarshal(raw, &a); err != nil {
		return Approval{}, err
	}
	return a, nil
}

// Write persists the approval as indented JSON, creating parent directories
// as needed.
func Write(path string, a Approval) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
