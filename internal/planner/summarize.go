package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coworkerhq/coworker/internal/doctools"
	"github.com/coworkerhq/coworker/internal/fstools"
	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
)

// SummaryOptions configure BuildSummaryPlan.
type SummaryOptions struct {
	// MaxChars caps the text extracted per document.
	MaxChars int
	// OCRMode is passed to PDF extraction: "off", "ask", or "on".
	OCRMode string
	// CheckpointEvery inserts automatic checkpoints between that many
	// writes; 0 disables.
	CheckpointEvery int
	// Extractor extracts PDF text. Defaults to doctools.New().
	Extractor *doctools.Extractor
}

// BuildSummaryPlan derives a plan that writes one summary note per selected
// document: a propose call showing the note as a diff, then an apply call.
// Text is extracted up front (bounded, PDF-aware) so the plan content is
// fixed before any approval. Every path must be a regular file.
func BuildSummaryPlan(ctx context.Context, paths []string, opts SummaryOptions) (*plan.Plan, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to summarize")
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = policy.DefaultMaxReadBytes
	}
	if opts.OCRMode == "" {
		opts.OCRMode = "off"
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = doctools.New()
	}

	var calls []any
	for _, raw := range paths {
		source := policy.ResolvePath(raw)
		info, err := os.Stat(source)
		if err != nil || !info.Mode().IsRegular() {
			return nil, fmt.Errorf("not a file: %s", raw)
		}

		text := extractText(ctx, extractor, source, opts.MaxChars, opts.OCRMode)
		content := formatNote(source, text)
		output := summaryOutputPath(source)
		callID := summaryCallID(source)

		calls = append(calls,
			map[string]any{
				"id":   callID + "-propose",
				"tool": "fs.propose_write_file",
				"args": map[string]any{"path": output, "content": content},
			},
			map[string]any{
				"id":   callID + "-apply",
				"tool": "fs.apply_write_file",
				"args": map[string]any{"path": output, "content": content},
			},
		)
	}

	doc := map[string]any{
		"version":     json.Number(strconv.Itoa(plan.Version)),
		"created_at":  plan.UTCNow(),
		"instruction": "summarize selected documents",
		"tool_calls":  calls,
	}
	p, err := plan.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	if checkpoints := plan.AutoCheckpoints(p.ToolCalls(), opts.CheckpointEvery); len(checkpoints) > 0 {
		asAny := make([]any, len(checkpoints))
		for i, id := range checkpoints {
			asAny[i] = id
		}
		doc["checkpoints"] = asAny
	}
	p.EnsureHash()
	return p, nil
}

func extractText(ctx context.Context, extractor *doctools.Extractor, path string, maxChars int, ocrMode string) string {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractor.ExtractPDFText(ctx, path, maxChars, ocrMode)
	}
	text, err := fstools.ReadText(path, maxChars)
	if err != nil {
		return ""
	}
	return text
}

// formatNote renders the summary note. Extracted text is quoted as an
// excerpt rather than paraphrased, so the note never claims more than the
// source supports.
func formatNote(source, text string) string {
	header := fmt.Sprintf("# Summary: %s\n\n", filepath.Base(source))
	body := strings.TrimSpace(text)
	if body == "" {
		return header + "No text could be extracted.\n"
	}
	return header + "## Excerpt\n\n" + body + "\n"
}

// summaryCallID derives a stable call id from the source path.
func summaryCallID(source string) string {
	digest := sha256.Sum256([]byte(source))
	return fmt.Sprintf("%s-%s", filepath.Base(source), hex.EncodeToString(digest[:])[:12])
}

// summaryOutputPath places the note next to the source, avoiding existing
// files: name.summary.md, then name.summary-1.md, ...
func summaryOutputPath(source string) string {
	base := strings.TrimSuffix(source, filepath.Ext(source))
	candidate := base + ".summary.md"
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	for index := 1; ; index++ {
		candidate = fmt.Sprintf("%s.summary-%d.md", base, index)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
