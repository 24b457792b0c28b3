// Package plan defines the declarative plan document: an ordered list of
// tool calls with optional checkpoints and a canonical content hash.
//
// A plan is carried as its parsed JSON document so the hash covers exactly
// what was submitted, including fields this version does not interpret.
// The hash is the lowercase hex sha256 of the document serialized with the
// keys "plan_hash" and "approval" removed, object keys sorted, ASCII-only
// escapes, and compact separators, prefixed with "sha256:". Two plans hash
// equal iff their remaining content is structurally equal; list order of
// tool_calls is significant, key order within objects is not.
//
// Typed accessors ([Plan.ToolCalls], [Plan.Checkpoints]) expose the fields
// the executor and policy interpret. Per-tool argument schemas live in the
// registry package and are validated at ingest time by the policy package.
package plan
