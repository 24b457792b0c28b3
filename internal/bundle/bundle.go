// Package bundle manages the on-disk artifact directory of one task: the
// plan copy, the human preview, the task snapshot, the append-only event
// log, resume state, and scratch space. Bundle initialization is idempotent
// so crashed or retried submissions never corrupt an existing bundle.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coworkerhq/coworker/internal/fstools"
	"github.com/coworkerhq/coworker/internal/plan"
)

// Paths names every artifact inside a task bundle.
type Paths struct {
	Root            string
	TaskPath        string
	PlanPath        string
	PreviewPath     string
	EventsPath      string
	ResumeStatePath string
	ScratchDir      string
	StagingDir      string
}

// BundlePaths derives the artifact paths for a bundle root.
func BundlePaths(root string) Paths {
	return Paths{
		Root:            root,
		TaskPath:        filepath.Join(root, "task.json"),
		PlanPath:        filepath.Join(root, "plan.json"),
		PreviewPath:     filepath.Join(root, "preview.txt"),
		EventsPath:      filepath.Join(root, "events.jsonl"),
		ResumeStatePath: filepath.Join(root, "resume_state.json"),
		ScratchDir:      filepath.Join(root, "scratch"),
		StagingDir:      filepath.Join(root, "staging"),
	}
}

// Snapshot is the task.json document mirrored into the bundle on every
// state transition.
type Snapshot struct {
	TaskID    string         `json:"task_id"`
	PlanHash  string         `json:"plan_hash"`
	State     string         `json:"state"`
	UpdatedAt string         `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Init creates the bundle directory tree and writes the plan (stamping its
// hash), the preview, the initial queued snapshot, and an empty event log.
// Re-invoking it overwrites those artifacts in place.
func Init(root, taskID string, pl *plan.Plan, previewLines []string, metadata map[string]any) (Paths, error) {
	paths := BundlePaths(root)
	for _, dir := range []string{root, paths.ScratchDir, paths.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, err
		}
	}

	planHash := pl.EnsureHash()
	if err := pl.Write(paths.PlanPath); err != nil {
		return Paths{}, fmt.Errorf("write plan: %w", err)
	}

	if previewLines == nil {
		previewLines = plan.BuildPreview(pl)
	}
	if err := os.WriteFile(paths.PreviewPath, []byte(strings.Join(previewLines, "\n")+"\n"), 0o644); err != nil {
		return Paths{}, err
	}

	if err := UpdateTaskSnapshot(paths, Snapshot{
		TaskID:   taskID,
		PlanHash: planHash,
		State:    "queued",
		Metadata: metadata,
	}); err != nil {
		return Paths{}, err
	}

	if _, err := os.Stat(paths.EventsPath); os.IsNotExist(err) {
		if err := os.WriteFile(paths.EventsPath, nil, 0o644); err != nil {
			return Paths{}, err
		}
	}
	return paths, nil
}

// Ensure returns the bundle paths, initializing the bundle only when its
// snapshot does not exist yet.
func Ensure(root, taskID string, pl *plan.Plan, previewLines []string, metadata map[string]any) (Paths, error) {
	paths := BundlePaths(root)
	if _, err := os.Stat(paths.TaskPath); err == nil {
		return paths, nil
	}
	return Init(root, taskID, pl, previewLines, metadata)
}

// UpdateTaskSnapshot atomically overwrites task.json.
func UpdateTaskSnapshot(paths Paths, snap Snapshot) error {
	if snap.UpdatedAt == "" {
		snap.UpdatedAt = plan.UTCNow()
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return fstools.ApplyWriteFile(paths.TaskPath, string(raw))
}

// Event is one line of the bundle event log.
type Event map[string]any

// AppendEvent appends a single JSON object line to events.jsonl, stamping a
// UTC timestamp unless the event already carries one.
func AppendEvent(paths Paths, event Event) error {
	payload := make(Event, len(event)+1)
	for k, v := range event {
		payload[k] = v
	}
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = plan.UTCNow()
	}
	if err := os.MkdirAll(filepath.Dir(paths.EventsPath), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(paths.EventsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return err
	}
	return nil
}

// ReadEvents parses every line of the bundle event log. Blank lines are
// skipped; a malformed line aborts with an error naming its position.
func ReadEvents(paths Paths) ([]Event, error) {
	raw, err := os.ReadFile(paths.EventsPath)
	if err != nil {
		return nil, err
	}
	var events []Event
	for i, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("event line %d: %w", i+1, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
