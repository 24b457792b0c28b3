package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ToolArgs is the tagged union of per-tool argument structs. ParseArgs
// returns exactly one variant per tool name.
type ToolArgs interface {
	Tool() string
}

// ReadTextArgs are the arguments of fs.read_text.
type ReadTextArgs struct {
	Path     string
	MaxBytes *int // nil means use the policy default
}

func (ReadTextArgs) Tool() string { return "fs.read_text" }

// ListDirArgs are the arguments of fs.list_dir.
type ListDirArgs struct {
	Path string
}

func (ListDirArgs) Tool() string { return "fs.list_dir" }

// ProposeWriteArgs are the arguments of fs.propose_write_file.
type ProposeWriteArgs struct {
	Path    string
	Content string
}

func (ProposeWriteArgs) Tool() string { return "fs.propose_write_file" }

// ApplyWriteArgs are the arguments of fs.apply_write_file.
type ApplyWriteArgs struct {
	Path    string
	Content string
}

func (ApplyWriteArgs) Tool() string { return "fs.apply_write_file" }

// MoveArgs are the arguments of fs.move and fs.rename.
type MoveArgs struct {
	Name string // "fs.move" or "fs.rename"
	Path string
	Dst  string
}

func (a MoveArgs) Tool() string { return a.Name }

// ExtractPDFArgs are the arguments of doc.extract_pdf_text.
type ExtractPDFArgs struct {
	Path     string
	MaxChars *int   // nil means use the policy default
	OCRMode  string // "off", "ask" or "on"; empty means "off"
}

func (ExtractPDFArgs) Tool() string { return "doc.extract_pdf_text" }

// WebFetchArgs are the arguments of web.fetch.
type WebFetchArgs struct {
	URL        string
	Allowlist  []string
	MaxBytes   *int // nil means use the policy default
	Method     string
	AllowQuery bool
}

func (WebFetchArgs) Tool() string { return "web.fetch" }

// extractPDFKeys and webFetchKeys are the only argument keys those tools
// accept; anything else is rejected at ingest.
var (
	extractPDFKeys = map[string]bool{"path": true, "max_chars": true, "ocr_mode": true}
	webFetchKeys   = map[string]bool{"url": true, "allowlist": true, "max_bytes": true, "method": true, "allow_query": true}

	// webForbiddenKeys would smuggle local content into a request body.
	webForbiddenKeys = []string{"body", "payload", "data", "content", "text", "file", "files"}
)

// ParseArgs validates the structure of a tool call's arguments and returns
// the typed variant. The problems slice is empty iff the arguments are
// structurally acceptable; policy-level checks (roots, caps, existence,
// allowlists) happen separately.
func ParseArgs(tool string, args map[string]any) (ToolArgs, []string) {
	switch tool {
	case "fs.read_text":
		return parseReadText(args)
	case "fs.list_dir":
		return parseListDir(args)
	case "fs.propose_write_file":
		path, content, problems := parsePathContent(tool, args)
		return ProposeWriteArgs{Path: path, Content: content}, problems
	case "fs.apply_write_file":
		path, content, problems := parsePathContent(tool, args)
		return ApplyWriteArgs{Path: path, Content: content}, problems
	case "fs.move", "fs.rename":
		return parseMove(tool, args)
	case "doc.extract_pdf_text":
		return parseExtractPDF(args)
	case "web.fetch":
		return parseWebFetch(args)
	default:
		return nil, []string{fmt.Sprintf("Tool not allowlisted: %s", tool)}
	}
}

func parseReadText(args map[string]any) (ToolArgs, []string) {
	var problems []string
	path := stringArg(args, "path")
	if path == "" {
		problems = append(problems, "fs.read_text missing path")
	}
	maxBytes, ok := optionalIntArg(args, "max_bytes")
	if !ok {
		problems = append(problems, "fs.read_text max_bytes must be integer")
	} else if maxBytes != nil && *maxBytes <= 0 {
		problems = append(problems, "fs.read_text max_bytes must be positive")
	}
	return ReadTextArgs{Path: path, MaxBytes: maxBytes}, problems
}

func parseListDir(args map[string]any) (ToolArgs, []string) {
	var problems []string
	path := stringArg(args, "path")
	if path == "" {
		problems = append(problems, "fs.list_dir missing path")
	}
	return ListDirArgs{Path: path}, problems
}

func parsePathContent(tool string, args map[string]any) (string, string, []string) {
	var problems []string
	path := stringArg(args, "path")
	if path == "" {
		problems = append(problems, fmt.Sprintf("%s missing path", tool))
	}
	content, ok := args["content"].(string)
	if !ok {
		problems = append(problems, fmt.Sprintf("%s requires content", tool))
	}
	return path, content, problems
}

func parseMove(tool string, args map[string]any) (ToolArgs, []string) {
	var problems []string
	path := stringArg(args, "path")
	if path == "" {
		problems = append(problems, fmt.Sprintf("%s missing path", tool))
	}
	dst := stringArg(args, "dst")
	if dst == "" {
		problems = append(problems, fmt.Sprintf("%s missing dst", tool))
	}
	return MoveArgs{Name: tool, Path: path, Dst: dst}, problems
}

func parseExtractPDF(args map[string]any) (ToolArgs, []string) {
	var problems []string
	for key := range args {
		if !extractPDFKeys[key] {
			problems = append(problems, "doc.extract_pdf_text includes unsupported fields")
			break
		}
	}
	path := stringArg(args, "path")
	if path == "" {
		problems = append(problems, "doc.extract_pdf_text missing path")
	}
	ocrMode := "off"
	if raw, present := args["ocr_mode"]; present {
		s, ok := raw.(string)
		if !ok || (s != "off" && s != "ask" && s != "on") {
			problems = append(problems, "doc.extract_pdf_text invalid ocr_mode")
		} else {
			ocrMode = s
		}
	}
	maxChars, ok := optionalIntArg(args, "max_chars")
	if !ok {
		problems = append(problems, "doc.extract_pdf_text max_chars must be integer")
	} else if maxChars != nil && *maxChars <= 0 {
		problems = append(problems, "doc.extract_pdf_text max_chars must be positive")
	}
	return ExtractPDFArgs{Path: path, MaxChars: maxChars, OCRMode: ocrMode}, problems
}

func parseWebFetch(args map[string]any) (ToolArgs, []string) {
	var problems []string
	for key := range args {
		if !webFetchKeys[key] {
			problems = append(problems, "web.fetch includes unsupported fields")
			break
		}
	}
	for _, forbidden := range webForbiddenKeys {
		if _, present := args[forbidden]; present {
			problems = append(problems, "web.fetch cannot send local content")
		}
	}

	out := WebFetchArgs{Method: "GET"}
	if raw, present := args["allow_query"]; present {
		b, ok := raw.(bool)
		if !ok {
			problems = append(problems, "web.fetch allow_query must be boolean")
		} else {
			out.AllowQuery = b
		}
	}
	out.URL = stringArg(args, "url")
	if out.URL == "" {
		problems = append(problems, "web.fetch missing url")
		return out, problems
	}
	rawList, ok := args["allowlist"].([]any)
	if !ok || len(rawList) == 0 {
		problems = append(problems, "web.fetch requires per-task allowlist")
		return out, problems
	}
	for _, entry := range rawList {
		out.Allowlist = append(out.Allowlist, fmt.Sprintf("%v", entry))
	}
	maxBytes, ok := optionalIntArg(args, "max_bytes")
	if !ok {
		problems = append(problems, "web.fetch max_bytes must be integer")
	} else if maxBytes != nil && *maxBytes <= 0 {
		problems = append(problems, "web.fetch max_bytes must be positive")
	}
	out.MaxBytes = maxBytes
	if raw, present := args["method"]; present {
		out.Method = strings.ToUpper(fmt.Sprintf("%v", raw))
	}
	if out.Method != "GET" {
		problems = append(problems, "web.fetch method must be GET")
	}
	return out, problems
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// optionalIntArg extracts an integer argument. Returns (nil, true) when the
// key is absent and (nil, false) when the value is not an integer (bools
// and fractional floats are rejected).
func optionalIntArg(args map[string]any, key string) (*int, bool) {
	raw, present := args[key]
	if !present {
		return nil, true
	}
	switch v := raw.(type) {
	case bool:
		return nil, false
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, false
		}
		n := int(i)
		return &n, true
	case float64:
		if v != math.Trunc(v) {
			return nil, false
		}
		n := int(v)
		return &n, true
	case int:
		n := v
		return &n, true
	default:
		return nil, false
	}
}
