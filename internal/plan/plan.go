package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cwerrors "github.com/coworkerhq/coworker/internal/errors"
)

// Version is the only plan schema version accepted by this runtime.
const Version = 1

// WriteTools are the tool names that mutate the filesystem. Auto-checkpoint
// derivation counts only these.
var WriteTools = map[string]bool{
	"fs.apply_write_file": true,
	"fs.move":             true,
	"fs.rename":           true,
}

// ToolCall is a single invocation descriptor within a plan.
type ToolCall struct {
	ID       string
	Tool     string
	Args     map[string]any
	Rollback map[string]any
}

// Plan wraps a parsed plan document. The underlying document is retained so
// hashing covers the submitted content exactly.
type Plan struct {
	doc map[string]any
}

// Parse decodes and validates a plan from raw JSON. Numbers are kept as
// json.Number so hashing preserves their source representation.
func Parse(raw []byte) (*Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, cwerrors.NewPlanValidation("plan must be a JSON object")
	}
	p := &Plan{doc: obj}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(raw)
}

// FromDocument wraps an already-built document (planner output) and
// validates it.
func FromDocument(doc map[string]any) (*Plan, error) {
	p := &Plan{doc: doc}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the structural invariants: version == 1, tool_calls is a
// list, and every entry carries a non-empty string id and tool plus an
// object args.
func (p *Plan) Validate() error {
	if v, ok := asInt(p.doc["version"]); !ok || v != Version {
		return cwerrors.NewPlanValidation(fmt.Sprintf("unsupported plan version: %v", p.doc["version"]))
	}
	rawCalls, ok := p.doc["tool_calls"].([]any)
	if !ok {
		return cwerrors.NewPlanValidation("plan must include tool_calls list")
	}
	for idx, raw := range rawCalls {
		call, ok := raw.(map[string]any)
		if !ok {
			return cwerrors.NewPlanValidation(fmt.Sprintf("tool call %d must be an object", idx))
		}
		if id, ok := call["id"].(string); !ok || id == "" {
			return cwerrors.NewPlanValidation(fmt.Sprintf("tool call %d missing id", idx))
		}
		if tool, ok := call["tool"].(string); !ok || tool == "" {
			return cwerrors.NewPlanValidation(fmt.Sprintf("tool call %d missing tool", idx))
		}
		args, present := call["args"]
		if !present {
			return cwerrors.NewPlanValidation(fmt.Sprintf("tool call %d missing args", idx))
		}
		if _, ok := args.(map[string]any); !ok {
			return cwerrors.NewPlanValidation(fmt.Sprintf("tool call %d args must be an object", idx))
		}
	}
	return nil
}

// ToolCalls returns the typed view of the plan's tool calls, in plan order.
func (p *Plan) ToolCalls() []ToolCall {
	rawCalls, _ := p.doc["tool_calls"].([]any)
	calls := make([]ToolCall, 0, len(rawCalls))
	for _, raw := range rawCalls {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		tc := ToolCall{}
		tc.ID, _ = obj["id"].(string)
		tc.Tool, _ = obj["tool"].(string)
		tc.Args, _ = obj["args"].(map[string]any)
		tc.Rollback, _ = obj["rollback"].(map[string]any)
		calls = append(calls, tc)
	}
	return calls
}

// Checkpoints returns the checkpoint tool-call IDs declared by the plan.
func (p *Plan) Checkpoints() []string {
	raw, _ := p.doc["checkpoints"].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case json.Number:
			out = append(out, v.String())
		}
	}
	return out
}

// Instruction returns the optional free-form instruction the plan carries.
func (p *Plan) Instruction() string {
	s, _ := p.doc["instruction"].(string)
	return s
}

// StoredHash returns the plan_hash recorded in the document, if any.
func (p *Plan) StoredHash() string {
	s, _ := p.doc["plan_hash"].(string)
	return s
}

// EnsureFields fills in version and created_at when absent.
func (p *Plan) EnsureFields() {
	if _, ok := p.doc["version"]; !ok {
		p.doc["version"] = json.Number(fmt.Sprintf("%d", Version))
	}
	if _, ok := p.doc["created_at"]; !ok {
		p.doc["created_at"] = UTCNow()
	}
}

// EnsureHash computes the canonical hash, records it in the document, and
// returns it.
func (p *Plan) EnsureHash() string {
	h := p.Hash()
	p.doc["plan_hash"] = h
	return h
}

// Write persists the plan as indented JSON, setting version, created_at and
// plan_hash first.
func (p *Plan) Write(path string) error {
	p.EnsureFields()
	p.EnsureHash()
	data, err := json.MarshalIndent(p.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plan directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// Document returns the underlying document. Callers must not mutate it.
func (p *Plan) Document() map[string]any {
	return p.doc
}

// AutoCheckpoints walks the tool calls in order, counting write-class tools,
// and returns the id of every `every`-th write. Deterministic for a given
// plan; returns nil when every <= 0.
func AutoCheckpoints(calls []ToolCall, every int) []string {
	if every <= 0 {
		return nil
	}
	var checkpoints []string
	writes := 0
	for _, call := range calls {
		if !WriteTools[call.Tool] {
			continue
		}
		if call.ID == "" {
			continue
		}
		writes++
		if writes%every == 0 {
			checkpoints = append(checkpoints, call.ID)
		}
	}
	return checkpoints
}

// UTCNow returns the timestamp format used across plan, approval and bundle
// files: compact UTC, e.g. 20240131T235959Z.
func UTCNow() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
