// Package policy decides what a plan is allowed to do. A Policy carries the
// allowed filesystem roots and the size caps; ValidatePlan walks every tool
// call and returns the full list of violations, so a caller can show all
// problems at once instead of failing on the first.
package policy

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/registry"
)

// Default caps applied when the configuration does not override them.
const (
	DefaultMaxReadBytes  = 200000
	DefaultMaxWriteBytes = 200000
	DefaultMaxWebBytes   = 200000
	DefaultMaxQueryChars = 256
)

// Limits are the raw policy knobs, typically sourced from configuration.
type Limits struct {
	AllowedPaths    []string
	MaxReadBytes    int
	MaxWriteBytes   int
	MaxWebBytes     int
	MaxQueryChars   int
	RequireApproval bool
	WebEnabled      bool
	WebAllowlist    []string
}

// DefaultLimits returns Limits with every cap at its default and approval
// required.
func DefaultLimits() Limits {
	return Limits{
		MaxReadBytes:    DefaultMaxReadBytes,
		MaxWriteBytes:   DefaultMaxWriteBytes,
		MaxWebBytes:     DefaultMaxWebBytes,
		MaxQueryChars:   DefaultMaxQueryChars,
		RequireApproval: true,
	}
}

// Policy is the resolved, immutable execution policy for one task.
type Policy struct {
	AllowedRoots    []string
	MaxReadBytes    int
	MaxWriteBytes   int
	MaxWebBytes     int
	MaxQueryChars   int
	RequireApproval bool
	WebEnabled      bool
	WebAllowlist    []string
}

// New builds a Policy from limits plus the paths the user selected for this
// task and any extra roots. Selected paths that resolve to a regular file
// contribute their parent directory; all roots are resolved and de-duplicated.
func New(lim Limits, selectedPaths, extraRoots []string) *Policy {
	var roots []string
	for _, raw := range lim.AllowedPaths {
		roots = append(roots, ResolvePath(raw))
	}
	for _, raw := range selectedPaths {
		resolved := ResolvePath(raw)
		if info, err := os.Stat(resolved); err == nil && !info.IsDir() {
			resolved = parentDir(resolved)
		}
		roots = append(roots, resolved)
	}
	for _, raw := range extraRoots {
		roots = append(roots, ResolvePath(raw))
	}
	return &Policy{
		AllowedRoots:    dedupePaths(roots),
		MaxReadBytes:    lim.MaxReadBytes,
		MaxWriteBytes:   lim.MaxWriteBytes,
		MaxWebBytes:     lim.MaxWebBytes,
		MaxQueryChars:   lim.MaxQueryChars,
		RequireApproval: lim.RequireApproval,
		WebEnabled:      lim.WebEnabled,
		WebAllowlist:    lim.WebAllowlist,
	}
}

func parentDir(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "/"
}

// ValidatePlan checks every tool call in the plan against the policy and
// returns all violations found. An empty slice means the plan may execute.
func (p *Policy) ValidatePlan(pl *plan.Plan, reg *registry.Registry) []string {
	return p.ValidateCalls(pl.ToolCalls(), reg)
}

// ValidateCalls checks a subset of tool calls. The executor uses it on
// resume to validate only pending calls, since completed writes have already
// changed the filesystem state the full-plan checks assume.
func (p *Policy) ValidateCalls(calls []plan.ToolCall, reg *registry.Registry) []string {
	var errs []string
	if len(p.AllowedRoots) == 0 {
		errs = append(errs, "No allowed roots configured for coworker plan.")
	}
	for _, call := range calls {
		if call.Tool == "" {
			errs = append(errs, "Tool call missing tool name.")
			continue
		}
		if _, ok := reg.Get(call.Tool); !ok {
			errs = append(errs, fmt.Sprintf("Tool not allowlisted: %s", call.Tool))
			continue
		}
		if call.Tool == "web.fetch" && !p.WebEnabled {
			errs = append(errs, "web.fetch blocked (web not enabled)")
			continue
		}
		typed, problems := registry.ParseArgs(call.Tool, call.Args)
		errs = append(errs, problems...)
		errs = append(errs, p.checkCall(typed)...)
	}
	return errs
}

func (p *Policy) checkCall(typed registry.ToolArgs) []string {
	switch args := typed.(type) {
	case registry.ReadTextArgs:
		return p.checkReadText(args)
	case registry.ListDirArgs:
		return p.checkListDir(args)
	case registry.ProposeWriteArgs:
		return p.checkWriteContent(args.Tool(), args.Path, args.Content, false)
	case registry.ApplyWriteArgs:
		return p.checkWriteContent(args.Tool(), args.Path, args.Content, true)
	case registry.MoveArgs:
		return p.checkMove(args)
	case registry.ExtractPDFArgs:
		return p.checkExtractPDF(args)
	case registry.WebFetchArgs:
		return p.checkWebFetch(args)
	default:
		return nil
	}
}

func (p *Policy) checkReadText(args registry.ReadTextArgs) []string {
	var errs []string
	if args.Path == "" {
		return errs
	}
	path := ResolvePath(args.Path)
	if !withinRoots(path, p.AllowedRoots) {
		return append(errs, fmt.Sprintf("fs.read_text path outside allowlist: %s", path))
	}
	if args.MaxBytes != nil && *args.MaxBytes > p.MaxReadBytes {
		errs = append(errs, "fs.read_text max_bytes exceeds policy limit")
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		errs = append(errs, fmt.Sprintf("fs.read_text file missing: %s", path))
	}
	return errs
}

func (p *Policy) checkListDir(args registry.ListDirArgs) []string {
	var errs []string
	if args.Path == "" {
		return errs
	}
	path := ResolvePath(args.Path)
	if !withinRoots(path, p.AllowedRoots) {
		return append(errs, fmt.Sprintf("fs.list_dir path outside allowlist: %s", path))
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Sprintf("fs.list_dir directory missing: %s", path))
	}
	return errs
}

func (p *Policy) checkWriteContent(tool, rawPath, content string, apply bool) []string {
	var errs []string
	if rawPath == "" {
		return errs
	}
	path := ResolvePath(rawPath)
	if !withinRoots(path, p.AllowedRoots) {
		return append(errs, fmt.Sprintf("%s path outside allowlist: %s", tool, path))
	}
	if len(content) > p.MaxWriteBytes {
		errs = append(errs, fmt.Sprintf("%s content exceeds policy limit", tool))
	}
	if apply {
		if _, err := os.Stat(path); err == nil {
			errs = append(errs, "fs.apply_write_file cannot overwrite existing file in v1")
		}
		if info, err := os.Stat(parentDir(path)); err != nil || !info.IsDir() {
			errs = append(errs, "fs.apply_write_file parent directory missing")
		}
	}
	return errs
}

func (p *Policy) checkMove(args registry.MoveArgs) []string {
	var errs []string
	if args.Path == "" || args.Dst == "" {
		return errs
	}
	tool := args.Tool()
	src := ResolvePath(args.Path)
	if !withinRoots(src, p.AllowedRoots) {
		return append(errs, fmt.Sprintf("%s path outside allowlist: %s", tool, src))
	}
	dst := ResolvePath(args.Dst)
	if !withinRoots(dst, p.AllowedRoots) {
		errs = append(errs, fmt.Sprintf("%s dst outside allowlist: %s", tool, dst))
	}
	if _, err := os.Lstat(src); err != nil {
		errs = append(errs, fmt.Sprintf("%s src missing: %s", tool, src))
	}
	if _, err := os.Lstat(dst); err == nil {
		errs = append(errs, fmt.Sprintf("%s dst exists (overwrite not allowed)", tool))
	}
	return errs
}

func (p *Policy) checkExtractPDF(args registry.ExtractPDFArgs) []string {
	var errs []string
	if args.Path == "" {
		return errs
	}
	path := ResolvePath(args.Path)
	if !withinRoots(path, p.AllowedRoots) {
		errs = append(errs, fmt.Sprintf("doc.extract_pdf_text path outside allowlist: %s", path))
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		errs = append(errs, fmt.Sprintf("doc.extract_pdf_text file missing: %s", path))
	}
	if args.MaxChars != nil && *args.MaxChars > p.MaxReadBytes {
		errs = append(errs, "doc.extract_pdf_text max_chars exceeds policy limit")
	}
	return errs
}

func (p *Policy) checkWebFetch(args registry.WebFetchArgs) []string {
	var errs []string
	if args.URL == "" || len(args.Allowlist) == 0 {
		return errs
	}
	if len(p.WebAllowlist) > 0 && !allowlistSubset(args.Allowlist, p.WebAllowlist) {
		return append(errs, "web.fetch allowlist not permitted by policy")
	}
	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return append(errs, "web.fetch only supports http(s)")
	}
	if parsed.RawQuery != "" {
		if !args.AllowQuery {
			errs = append(errs, "web.fetch query requires allow_query=true")
		}
		if len(parsed.RawQuery) > p.MaxQueryChars {
			errs = append(errs, "web.fetch query exceeds policy limit")
		}
	}
	if !HostAllowed(parsed.Hostname(), args.Allowlist) {
		errs = append(errs, "web.fetch url not in allowlist")
	}
	if args.MaxBytes != nil && *args.MaxBytes > p.MaxWebBytes {
		errs = append(errs, "web.fetch max_bytes exceeds policy limit")
	}
	return errs
}

func allowlistSubset(requested, permitted []string) bool {
	allowed := make(map[string]bool, len(permitted))
	for _, entry := range permitted {
		allowed[strings.ToLower(entry)] = true
	}
	for _, entry := range requested {
		if !allowed[strings.ToLower(entry)] {
			return false
		}
	}
	return true
}
