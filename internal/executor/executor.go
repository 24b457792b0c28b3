// Package executor runs validated plans. It previews tool calls, enforces
// the approval gate, dispatches each call to its primitive, and serializes
// resume state when execution pauses at a checkpoint.
package executor

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/coworkerhq/coworker/internal/approval"
	"github.com/coworkerhq/coworker/internal/doctools"
	cwerrors "github.com/coworkerhq/coworker/internal/errors"
	"github.com/coworkerhq/coworker/internal/fstools"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
	"github.com/coworkerhq/coworker/internal/registry"
	"github.com/coworkerhq/coworker/internal/runstate"
	"github.com/coworkerhq/coworker/internal/webtools"
)

// Fetcher performs a web fetch. It matches webtools.FetchURL; tests supply
// their own to avoid real network traffic.
type Fetcher func(ctx context.Context, url string, opts webtools.FetchOptions) (string, string, error)

// Executor applies plans under a policy. Construct with New.
type Executor struct {
	policy    *policy.Policy
	registry  *registry.Registry
	extractor *doctools.Extractor
	fetch     Fetcher
}

// Option configures an Executor.
type Option func(*Executor)

// WithExtractor substitutes the document text extractor.
func WithExtractor(e *doctools.Extractor) Option {
	return func(ex *Executor) { ex.extractor = e }
}

// WithFetcher substitutes the web fetch implementation.
func WithFetcher(f Fetcher) Option {
	return func(ex *Executor) { ex.fetch = f }
}

// New creates an Executor bound to a policy and tool registry.
func New(pol *policy.Policy, reg *registry.Registry, opts ...Option) *Executor {
	ex := &Executor{
		policy:    pol,
		registry:  reg,
		extractor: doctools.New(),
		fetch:     webtools.FetchURL,
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// PreviewPlan validates the plan and renders one line per tool call. When
// includeDiffs is set, a bounded unified diff follows for each proposed
// write.
func (ex *Executor) PreviewPlan(pl *plan.Plan, includeDiffs bool) ([]string, error) {
	if errs := ex.policy.ValidatePlan(pl, ex.registry); len(errs) > 0 {
		return nil, cwerrors.NewPlanValidation(errs...)
	}
	lines := plan.BuildPreview(pl)
	if includeDiffs {
		for _, call := range pl.ToolCalls() {
			if call.Tool != "fs.propose_write_file" {
				continue
			}
			typed, _ := registry.ParseArgs(call.Tool, call.Args)
			args := typed.(registry.ProposeWriteArgs)
			path := policy.ResolvePath(args.Path)
			diff, err := fstools.ProposeWriteFile(path, args.Content, ex.policy.MaxReadBytes)
			if err != nil {
				return nil, &cwerrors.ToolError{Tool: call.Tool, Err: err}
			}
			if diff != "" {
				lines = append(lines, "", fmt.Sprintf("Diff for %s:", path), diff)
			}
		}
	}
	return lines, nil
}

// ApplyPlan executes the whole plan in one pass, ignoring checkpoints.
func (ex *Executor) ApplyPlan(ctx context.Context, pl *plan.Plan, appr *approval.Approval) ([]string, error) {
	results, _, err := ex.ApplyPlanWithState(ctx, pl, appr, nil, false)
	return results, err
}

// ApplyPlanWithState executes the plan, skipping calls already recorded in
// resume, and pauses at checkpoints when stopAtCheckpoints is set. A pause
// returns a non-nil resume state; full completion returns a nil state. A
// checkpoint on the final tool call does not pause.
func (ex *Executor) ApplyPlanWithState(
	ctx context.Context,
	pl *plan.Plan,
	appr *approval.Approval,
	resume *runstate.State,
	stopAtCheckpoints bool,
) ([]string, *runstate.State, error) {
	planHash := pl.Hash()
	if resume != nil && resume.PlanHash != planHash {
		return nil, nil, cwerrors.NewPlanValidation("Resume state does not match plan hash.")
	}

	calls := pl.ToolCalls()
	checkpoints := pl.Checkpoints()
	if err := checkCheckpointIDs(checkpoints, calls); err != nil {
		return nil, nil, err
	}
	completed := make(map[string]bool)
	if resume != nil {
		for _, id := range resume.CompletedIDs {
			completed[id] = true
		}
	}

	// Validate only the calls that will actually run: completed calls have
	// already mutated the filesystem, so re-checking their preconditions on
	// resume would fail the plan on its own effects.
	pending := calls[:0:0]
	for _, call := range calls {
		if call.ID == "" || !completed[call.ID] {
			pending = append(pending, call)
		}
	}
	if errs := ex.policy.ValidateCalls(pending, ex.registry); len(errs) > 0 {
		return nil, nil, cwerrors.NewPlanValidation(errs...)
	}
	nextCheckpoint := firstPending(checkpoints, completed)

	if ex.policy.RequireApproval {
		if appr == nil {
			return nil, nil, &cwerrors.ApprovalError{Reason: "Approval required but not provided."}
		}
		if stopAtCheckpoints && nextCheckpoint != "" {
			if !appr.Matches(planHash, nextCheckpoint) {
				return nil, nil, &cwerrors.ApprovalError{Reason: "Approval does not match checkpoint."}
			}
		} else if !appr.Matches(planHash, "") {
			return nil, nil, &cwerrors.ApprovalError{Reason: "Approval does not match plan hash."}
		}
	}

	isCheckpoint := make(map[string]bool, len(checkpoints))
	for _, id := range checkpoints {
		isCheckpoint[id] = true
	}

	var results []string
	for idx, call := range calls {
		if call.ID != "" && completed[call.ID] {
			continue
		}
		callResults, err := ex.runCall(ctx, call)
		if err != nil {
			return results, nil, err
		}
		results = append(results, callResults...)
		if call.ID != "" {
			completed[call.ID] = true
		}
		if stopAtCheckpoints && call.ID != "" && isCheckpoint[call.ID] && idx != len(calls)-1 {
			state := runstate.Build(planHash, sortedKeys(completed), firstPending(checkpoints, completed))
			return results, &state, nil
		}
	}
	return results, nil, nil
}

func (ex *Executor) runCall(ctx context.Context, call plan.ToolCall) ([]string, error) {
	typed, problems := registry.ParseArgs(call.Tool, call.Args)
	if len(problems) > 0 {
		return nil, cwerrors.NewPlanValidation(problems...)
	}
	switch args := typed.(type) {
	case registry.ApplyWriteArgs:
		path := policy.ResolvePath(args.Path)
		if pathExists(path) {
			return nil, cwerrors.NewPlanValidation("fs.apply_write_file cannot overwrite existing file in v1")
		}
		if err := fstools.ApplyWriteFile(path, args.Content); err != nil {
			return nil, &cwerrors.ToolError{Tool: call.Tool, Err: err}
		}
		return []string{"wrote:" + path}, nil

	case registry.MoveArgs:
		src := policy.ResolvePath(args.Path)
		dst := policy.ResolvePath(args.Dst)
		if pathExists(dst) {
			return nil, cwerrors.NewPlanValidation(
				fmt.Sprintf("%s cannot overwrite existing file in v1", call.Tool))
		}
		if err := fstools.MovePath(src, dst); err != nil {
			return nil, &cwerrors.ToolError{Tool: call.Tool, Err: err}
		}
		verb := "moved"
		if call.Tool == "fs.rename" {
			verb = "renamed"
		}
		return []string{
			fmt.Sprintf("%s:%s->%s", verb, src, dst),
			fmt.Sprintf("rollback:%s->%s", dst, src),
		}, nil

	case registry.ProposeWriteArgs:
		path := policy.ResolvePath(args.Path)
		diff, err := fstools.ProposeWriteFile(path, args.Content, ex.policy.MaxReadBytes)
		if err != nil {
			return nil, &cwerrors.ToolError{Tool: call.Tool, Err: err}
		}
		if diff == "" {
			return nil, nil
		}
		return []string{"diff:" + path}, nil

	case registry.ReadTextArgs:
		path := policy.ResolvePath(args.Path)
		maxBytes := ex.policy.MaxReadBytes
		if args.MaxBytes != nil {
			maxBytes = *args.MaxBytes
		}
		content, err := fstools.ReadText(path, maxBytes)
		if err != nil {
			return nil, &cwerrors.ToolError{Tool: call.Tool, Err: err}
		}
		return []string{fmt.Sprintf("read:%s chars=%d", path, len([]rune(content)))}, nil

	case registry.ListDirArgs:
		path := policy.ResolvePath(args.Path)
		entries, err := fstools.ListDir(path, 0)
		if err != nil {
			return nil, &cwerrors.ToolError{Tool: call.Tool, Err: err}
		}
		return []string{fmt.Sprintf("list:%s entries=%d", path, len(entries))}, nil

	case registry.ExtractPDFArgs:
		path := policy.ResolvePath(args.Path)
		maxChars := ex.policy.MaxReadBytes
		if args.MaxChars != nil {
			maxChars = *args.MaxChars
		}
		text := ex.extractor.ExtractPDFText(ctx, path, maxChars, args.OCRMode)
		return []string{fmt.Sprintf("extract_pdf:%s chars=%d", path, len([]rune(text)))}, nil

	case registry.WebFetchArgs:
		maxBytes := ex.policy.MaxWebBytes
		if args.MaxBytes != nil {
			maxBytes = *args.MaxBytes
		}
		body, contentType, err := ex.fetch(ctx, args.URL, webtools.FetchOptions{
			MaxBytes:      maxBytes,
			Allowlist:     args.Allowlist,
			AllowQuery:    args.AllowQuery,
			MaxQueryChars: ex.policy.MaxQueryChars,
		})
		if err != nil {
			return nil, &cwerrors.ToolError{Tool: call.Tool, Err: err}
		}
		return []string{fmt.Sprintf("web:%s bytes=%d type=%s", args.URL, len(body), contentType)}, nil

	default:
		return []string{"skipped:" + call.Tool}, nil
	}
}

// checkCheckpointIDs rejects checkpoints that do not name a tool call.
func checkCheckpointIDs(checkpoints []string, calls []plan.ToolCall) error {
	ids := make(map[string]bool, len(calls))
	for _, call := range calls {
		ids[call.ID] = true
	}
	for _, cp := range checkpoints {
		if !ids[cp] {
			return cwerrors.NewPlanValidation(fmt.Sprintf("Checkpoint does not match any tool call: %s", cp))
		}
	}
	return nil
}

func firstPending(checkpoints []string, completed map[string]bool) string {
	for _, cp := range checkpoints {
		if !completed[cp] {
			return cp
		}
	}
	return ""
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
