// Package doctools extracts text from documents by shelling out to local
// tooling: pdftotext for the text layer and tesseract for OCR when the text
// layer is empty. OCR behind "ask" mode goes through an OCRPrompter so the
// caller decides how (or whether) to ask.
package doctools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// DefaultChunkSize is the slice size used by ExtractPDFChunks.
const DefaultChunkSize = 3000

// OCRPrompter answers whether a slow OCR pass may run when a document has no
// extractable text layer. Implementations must be safe to call from worker
// goroutines.
type OCRPrompter interface {
	ConfirmOCR(ctx context.Context, path string) bool
}

// CommandRunner executes a local command and returns its stdout. The default
// implementation uses os/exec; tests substitute their own.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// Extractor extracts document text. The zero value is not usable; call New.
type Extractor struct {
	run      CommandRunner
	prompter OCRPrompter
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner substitutes the command runner.
func WithRunner(run CommandRunner) Option {
	return func(e *Extractor) { e.run = run }
}

// WithPrompter installs the prompter consulted in "ask" OCR mode. Without
// one, "ask" declines OCR.
func WithPrompter(p OCRPrompter) Option {
	return func(e *Extractor) { e.prompter = p }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{run: execRunner}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractPDFText returns up to maxChars characters of the document's text.
// The text layer is tried first; when it is empty, ocrMode decides what
// happens next: "off" returns empty, "on" runs OCR, "ask" consults the
// prompter. Tool failures degrade to empty output rather than erroring, so a
// missing binary reads like a document with no text.
func (e *Extractor) ExtractPDFText(ctx context.Context, path string, maxChars int, ocrMode string) string {
	text := e.textLayer(ctx, path, maxChars)
	if text != "" || ocrMode == "off" || ocrMode == "" {
		return text
	}
	if ocrMode == "ask" {
		if e.prompter == nil || !e.prompter.ConfirmOCR(ctx, path) {
			return ""
		}
	}
	return e.ocrText(ctx, path, maxChars)
}

// ExtractPDFChunks extracts text and splits it into chunkSize-character
// slices. chunkSize <= 0 uses the default.
func (e *Extractor) ExtractPDFChunks(ctx context.Context, path string, maxChars int, ocrMode string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return ChunkText(e.ExtractPDFText(ctx, path, maxChars, ocrMode), chunkSize)
}

func (e *Extractor) textLayer(ctx context.Context, path string, maxChars int) string {
	out, err := e.run(ctx, "pdftotext", path, "-")
	if err != nil {
		return ""
	}
	return truncateChars(strings.TrimSpace(out), maxChars)
}

func (e *Extractor) ocrText(ctx context.Context, path string, maxChars int) string {
	out, err := e.run(ctx, "tesseract", path, "stdout")
	if err != nil {
		return ""
	}
	return truncateChars(strings.TrimSpace(out), maxChars)
}

// ChunkText splits text into size-character pieces. Returns nil for empty
// text or a non-positive size.
func ChunkText(text string, size int) []string {
	if size <= 0 || text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func truncateChars(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
