// Package launchd renders a launchd job definition for the runtime daemon,
// so `coworker-runtime print-plist` output can be dropped into
// ~/Library/LaunchAgents as is.
package launchd

import (
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults for the rendered job.
const (
	DefaultLabel      = "com.coworker.runtime"
	DefaultStdoutPath = "/tmp/coworker-runtime.out"
	DefaultStderrPath = "/tmp/coworker-runtime.err"

	runtimeEnabledEnv = "COWORKER_RUNTIME_ENABLED"
)

// ResolveProgramPath resolves the daemon binary to embed in the plist. An
// explicit path wins; otherwise the binary is looked up on PATH, then the
// current executable is used. Returns "" when nothing resolves.
func ResolveProgramPath(raw string) string {
	if raw != "" {
		path := raw
		if strings.HasPrefix(path, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, path[2:])
			}
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}
	if detected, err := exec.LookPath("coworker-runtime"); err == nil {
		if abs, err := filepath.Abs(detected); err == nil {
			return abs
		}
		return detected
	}
	if self, err := os.Executable(); err == nil {
		return self
	}
	return ""
}

// Options control the rendered plist. Zero values fall back to defaults;
// Workers/PollSeconds/StateDir are omitted from the program arguments when
// unset so the daemon uses its configuration.
type Options struct {
	Program          string
	Label            string
	StateDir         string
	Workers          int
	PollSeconds      float64
	WorkerID         string
	StdoutPath       string
	StderrPath       string
	EnableRuntimeEnv bool
	RunAtLoad        *bool
	KeepAlive        *bool
}

// Render produces the launchd property list XML for the daemon job.
func Render(opts Options) string {
	label := opts.Label
	if label == "" {
		label = DefaultLabel
	}
	stdoutPath := opts.StdoutPath
	if stdoutPath == "" {
		stdoutPath = DefaultStdoutPath
	}
	stderrPath := opts.StderrPath
	if stderrPath == "" {
		stderrPath = DefaultStderrPath
	}
	runAtLoad := true
	if opts.RunAtLoad != nil {
		runAtLoad = *opts.RunAtLoad
	}
	keepAlive := true
	if opts.KeepAlive != nil {
		keepAlive = *opts.KeepAlive
	}

	args := []string{opts.Program, "daemon"}
	if opts.WorkerID != "" {
		args = append(args, "--worker-id", opts.WorkerID)
	}
	if opts.Workers > 0 {
		args = append(args, "--workers", strconv.Itoa(opts.Workers))
	}
	if opts.PollSeconds > 0 {
		args = append(args, "--poll-seconds", strconv.FormatFloat(opts.PollSeconds, 'g', -1, 64))
	}
	if opts.StateDir != "" {
		args = append(args, "--state-dir", opts.StateDir)
	}

	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	b.WriteString("<plist version=\"1.0\">\n<dict>\n")
	writeKey(&b, 1, "Label")
	writeString(&b, 1, label)
	writeKey(&b, 1, "ProgramArguments")
	b.WriteString("\t<array>\n")
	for _, arg := range args {
		writeString(&b, 2, arg)
	}
	b.WriteString("\t</array>\n")
	writeKey(&b, 1, "RunAtLoad")
	writeBool(&b, 1, runAtLoad)
	writeKey(&b, 1, "KeepAlive")
	writeBool(&b, 1, keepAlive)
	writeKey(&b, 1, "StandardOutPath")
	writeString(&b, 1, stdoutPath)
	writeKey(&b, 1, "StandardErrorPath")
	writeString(&b, 1, stderrPath)
	if opts.EnableRuntimeEnv {
		writeKey(&b, 1, "EnvironmentVariables")
		b.WriteString("\t<dict>\n")
		writeKey(&b, 2, runtimeEnabledEnv)
		writeString(&b, 2, "1")
		b.WriteString("\t</dict>\n")
	}
	b.WriteString("</dict>\n</plist>\n")
	return b.String()
}

func writeKey(b *strings.Builder, depth int, key string) {
	fmt.Fprintf(b, "%s<key>%s</key>\n", strings.Repeat("\t", depth), escape(key))
}

func writeString(b *strings.Builder, depth int, value string) {
	fmt.Fprintf(b, "%s<string>%s</string>\n", strings.Repeat("\t", depth), escape(value))
}

func writeBool(b *strings.Builder, depth int, value bool) {
	tag := "false"
	if value {
		tag = "true"
	}
	fmt.Fprintf(b, "%s<%s/>\n", strings.Repeat("\t", depth), tag)
}

func escape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
