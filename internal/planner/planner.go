// Package planner builds executable plan documents without an operator
// having to hand-write JSON. Manual plans come straight from tool/args
// pairs; summary plans are derived from selected documents.
package planner

import (
	"encoding/json"
	"strconv"

	"github.com/coworkerhq/coworker/internal/plan"
)

// RawCall is one unvalidated tool call, typically parsed from command-line
// flags. A missing ID is assigned from the call's position.
type RawCall struct {
	ID   string
	Tool string
	Args map[string]any
}

// BuildManualPlan assembles a plan from the given calls. Calls without a
// tool or args are dropped; fs.move and fs.rename calls get an inverse
// rollback descriptor attached. checkpointEvery > 0 inserts automatic
// checkpoints after every that many write-class calls.
func BuildManualPlan(calls []RawCall, instruction string, checkpointEvery int) (*plan.Plan, error) {
	normalized := make([]any, 0, len(calls))
	for idx, call := range calls {
		if call.Tool == "" || call.Args == nil {
			continue
		}
		id := call.ID
		if id == "" {
			id = strconv.Itoa(idx + 1)
		}
		entry := map[string]any{
			"id":   id,
			"tool": call.Tool,
			"args": call.Args,
		}
		if rollback := rollbackFor(call.Tool, call.Args); rollback != nil {
			entry["rollback"] = rollback
		}
		normalized = append(normalized, entry)
	}

	doc := map[string]any{
		"version":    json.Number(strconv.Itoa(plan.Version)),
		"created_at": plan.UTCNow(),
		"tool_calls": normalized,
	}
	if instruction != "" {
		doc["instruction"] = instruction
	}

	p, err := plan.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	if checkpoints := plan.AutoCheckpoints(p.ToolCalls(), checkpointEvery); len(checkpoints) > 0 {
		asAny := make([]any, len(checkpoints))
		for i, id := range checkpoints {
			asAny[i] = id
		}
		doc["checkpoints"] = asAny
	}
	p.EnsureHash()
	return p, nil
}

// rollbackFor returns the inverse call for reversible tools, nil otherwise.
func rollbackFor(tool string, args map[string]any) map[string]any {
	if tool != "fs.move" && tool != "fs.rename" {
		return nil
	}
	src, _ := args["path"].(string)
	dst, _ := args["dst"].(string)
	if src == "" || dst == "" {
		return nil
	}
	return map[string]any{
		"tool": tool,
		"args": map[string]any{"path": dst, "dst": src},
	}
}
