package registry

import "testing"

func TestDefault_ToolSet(t *testing.T) {
	r := Default()

	cases := []struct {
		name             string
		category         Category
		requiresApproval bool
	}{
		{"fs.read_text", CategoryRead, false},
		{"fs.list_dir", CategoryRead, false},
		{"doc.extract_pdf_text", CategoryRead, false},
		{"fs.propose_write_file", CategoryWrite, false},
		{"fs.apply_write_file", CategoryWrite, true},
		{"fs.move", CategoryWrite, true},
		{"fs.rename", CategoryWrite, true},
		{"web.fetch", CategoryNetwork, true},
	}
	for _, tc := range cases {
		spec, ok := r.Get(tc.name)
		if !ok {
			t.Errorf("missing tool %s", tc.name)
			continue
		}
		if spec.Category != tc.category {
			t.Errorf("%s category = %s, want %s", tc.name, spec.Category, tc.category)
		}
		if spec.RequiresApproval != tc.requiresApproval {
			t.Errorf("%s requiresApproval = %v, want %v", tc.name, spec.RequiresApproval, tc.requiresApproval)
		}
	}

	if names := r.Names(); len(names) != len(cases) {
		t.Errorf("expected %d tools, got %v", len(cases), names)
	}
}

func TestRequire_UnknownTool(t *testing.T) {
	if _, err := Default().Require("fs.delete"); err == nil {
		t.Error("Require should fail for unknown tool")
	}
}

func TestParseArgs_ReadText(t *testing.T) {
	args, problems := ParseArgs("fs.read_text", map[string]any{"path": "/a", "max_bytes": 100})
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	rt := args.(ReadTextArgs)
	if rt.Path != "/a" || rt.MaxBytes == nil || *rt.MaxBytes != 100 {
		t.Errorf("unexpected args: %+v", rt)
	}

	_, problems = ParseArgs("fs.read_text", map[string]any{"path": "/a", "max_bytes": -1})
	if len(problems) == 0 {
		t.Error("negative max_bytes should be rejected")
	}
	_, problems = ParseArgs("fs.read_text", map[string]any{"max_bytes": 10})
	if len(problems) == 0 {
		t.Error("missing path should be rejected")
	}
}

func TestParseArgs_WebFetchForbiddenKeys(t *testing.T) {
	_, problems := ParseArgs("web.fetch", map[string]any{
		"url":       "https://example.com",
		"allowlist": []any{"example.com"},
		"body":      "secret",
	})
	found := false
	for _, p := range problems {
		if p == "web.fetch cannot send local content" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected local-content rejection, got %v", problems)
	}
}

func TestParseArgs_WebFetchMethod(t *testing.T) {
	_, problems := ParseArgs("web.fetch", map[string]any{
		"url":       "https://example.com",
		"allowlist": []any{"example.com"},
		"method":    "POST",
	})
	if len(problems) == 0 {
		t.Error("POST must be rejected")
	}

	args, problems := ParseArgs("web.fetch", map[string]any{
		"url":       "https://example.com",
		"allowlist": []any{"example.com"},
		"method":    "get",
	})
	if len(problems) != 0 {
		t.Fatalf("lowercase get should normalize: %v", problems)
	}
	if args.(WebFetchArgs).Method != "GET" {
		t.Errorf("method = %s", args.(WebFetchArgs).Method)
	}
}

func TestParseArgs_ExtractPDF(t *testing.T) {
	_, problems := ParseArgs("doc.extract_pdf_text", map[string]any{"path": "/a.pdf", "extra": 1})
	if len(problems) == 0 {
		t.Error("unsupported fields should be rejected")
	}

	_, problems = ParseArgs("doc.extract_pdf_text", map[string]any{"path": "/a.pdf", "ocr_mode": "maybe"})
	if len(problems) == 0 {
		t.Error("invalid ocr_mode should be rejected")
	}

	_, problems = ParseArgs("doc.extract_pdf_text", map[string]any{"path": "/a.pdf", "max_chars": true})
	if len(problems) == 0 {
		t.Error("boolean max_chars should be rejected")
	}

	_, problems = ParseArgs("doc.extract_pdf_text", map[string]any{"path": "/a.pdf", "max_chars": 1.5})
	if len(problems) == 0 {
		t.Error("fractional max_chars should be rejected")
	}

	args, problems := ParseArgs("doc.extract_pdf_text", map[string]any{"path": "/a.pdf", "ocr_mode": "ask"})
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if args.(ExtractPDFArgs).OCRMode != "ask" {
		t.Errorf("ocr_mode = %s", args.(ExtractPDFArgs).OCRMode)
	}
}

func TestParseArgs_UnknownTool(t *testing.T) {
	_, problems := ParseArgs("fs.delete", map[string]any{})
	if len(problems) != 1 || problems[0] != "Tool not allowlisted: fs.delete" {
		t.Errorf("problems = %v", problems)
	}
}
