package launchd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_Defaults(t *testing.T) {
	out := Render(Options{Program: "/usr/local/bin/coworker-runtime"})

	for _, want := range []string{
		"<key>Label</key>",
		"<string>" + DefaultLabel + "</string>",
		"<string>/usr/local/bin/coworker-runtime</string>",
		"<string>daemon</string>",
		"<key>RunAtLoad</key>",
		"<key>KeepAlive</key>",
		"<string>" + DefaultStdoutPath + "</string>",
		"<string>" + DefaultStderrPath + "</string>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "EnvironmentVariables") {
		t.Error("environment must be omitted unless requested")
	}
	if strings.Contains(out, "--state-dir") || strings.Contains(out, "--workers") {
		t.Error("unset options must not appear in arguments")
	}
}

func TestRender_AllOptions(t *testing.T) {
	no := false
	out := Render(Options{
		Program:          "/opt/coworker-runtime",
		Label:            "com.example.runtime",
		StateDir:         "/var/coworker",
		Workers:          4,
		PollSeconds:      0.5,
		WorkerID:         "w-main",
		EnableRuntimeEnv: true,
		KeepAlive:        &no,
	})

	for _, want := range []string{
		"<string>com.example.runtime</string>",
		"<string>--worker-id</string>",
		"<string>w-main</string>",
		"<string>--workers</string>",
		"<string>4</string>",
		"<string>--poll-seconds</string>",
		"<string>0.5</string>",
		"<string>--state-dir</string>",
		"<string>/var/coworker</string>",
		"<key>COWORKER_RUNTIME_ENABLED</key>",
		"<string>1</string>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "<key>KeepAlive</key>\n\t<false/>") {
		t.Errorf("KeepAlive false not rendered:\n%s", out)
	}
}

func TestRender_EscapesXML(t *testing.T) {
	out := Render(Options{Program: "/tmp/a&b"})
	if !strings.Contains(out, "/tmp/a&amp;b") {
		t.Errorf("unescaped ampersand:\n%s", out)
	}
}

func TestResolveProgramPath_Explicit(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "coworker-runtime")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if got := ResolveProgramPath(bin); got != bin {
		t.Errorf("resolved = %q", got)
	}
	if got := ResolveProgramPath(filepath.Join(dir, "missing")); got != "" {
		t.Errorf("missing explicit path must fail, got %q", got)
	}
}

func TestResolveProgramPath_FallsBackToSelf(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	got := ResolveProgramPath("")
	if got == "" {
		t.Error("expected the current executable as fallback")
	}
}
