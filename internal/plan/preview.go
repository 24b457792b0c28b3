package plan

import "fmt"

// BuildPreview renders a human-readable line per tool call, preceded by a
// count header. This is the content of the bundle's preview.txt.
func BuildPreview(p *Plan) []string {
	calls := p.ToolCalls()
	lines := []string{fmt.Sprintf("Tool calls: %d", len(calls))}
	for _, call := range calls {
		lines = append(lines, previewLine(call))
	}
	return lines
}

func previewLine(call ToolCall) string {
	switch call.Tool {
	case "fs.move", "fs.rename":
		src, _ := call.Args["path"].(string)
		dst, _ := call.Args["dst"].(string)
		line := fmt.Sprintf("- %s: %s -> %s", call.Tool, src, dst)
		if call.Rollback != nil {
			line += fmt.Sprintf(" (rollback: %v)", call.Rollback)
		}
		return line
	case "fs.read_text", "fs.list_dir", "fs.propose_write_file", "fs.apply_write_file", "doc.extract_pdf_text":
		path, _ := call.Args["path"].(string)
		return fmt.Sprintf("- %s: %s", call.Tool, path)
	case "web.fetch":
		url, _ := call.Args["url"].(string)
		return fmt.Sprintf("- %s: %s", call.Tool, url)
	default:
		return fmt.Sprintf("- %s", call.Tool)
	}
}
