// Package fstools implements the filesystem tool primitives: bounded text
// reads, capped directory listings, unified-diff write previews, atomic
// no-tear writes and moves. Callers are expected to have policy-checked the
// paths already; these functions only guarantee mechanics, not permission.
package fstools

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// MaxDirEntries caps list results so a huge directory cannot flood a preview.
const MaxDirEntries = 200

// ReadText reads at most maxBytes bytes of the file and decodes them as
// UTF-8, replacing invalid sequences with U+FFFD.
func ReadText(path string, maxBytes int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	return sanitizeUTF8(buf[:n]), nil
}

func sanitizeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune('�')
		} else {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}

// ListDir returns up to maxEntries names from the directory, sorted. Pass
// maxEntries <= 0 for the default cap.
func ListDir(path string, maxEntries int) ([]string, error) {
	if maxEntries <= 0 {
		maxEntries = MaxDirEntries
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	if len(names) > maxEntries {
		names = names[:maxEntries]
	}
	return names, nil
}

// ProposeWriteFile renders a unified diff between the file's current content
// (empty if it does not exist) and the proposed content. maxBytes <= 0 reads
// the whole file.
func ProposeWriteFile(path, content string, maxBytes int) (string, error) {
	existing := ""
	if _, err := os.Stat(path); err == nil {
		if maxBytes > 0 {
			existing, err = ReadText(path, maxBytes)
		} else {
			var raw []byte
			raw, err = os.ReadFile(path)
			existing = sanitizeUTF8(raw)
		}
		if err != nil {
			return "", err
		}
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(existing),
		B:        difflib.SplitLines(content),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(diff, "\n"), nil
}

// ApplyWriteFile writes content to path atomically: the bytes land in a
// sibling temporary file which is then renamed over the target, so the file
// is either fully updated or untouched. Writes through symlinks target the
// resolved path. An existing file keeps its mode; new files get
// 0o666 & ~umask.
func ApplyWriteFile(path, content string) error {
	writePath := path
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			writePath = resolved
		}
	}
	dir := filepath.Dir(writePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var existingMode os.FileMode
	hasExisting := false
	if info, err := os.Stat(writePath); err == nil {
		existingMode = info.Mode().Perm()
		hasExisting = true
	}

	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, writePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomic rename: %w", err)
	}

	if hasExisting {
		os.Chmod(writePath, existingMode)
	} else {
		os.Chmod(writePath, os.FileMode(0o666&^currentUmask()))
	}
	return nil
}

func currentUmask() os.FileMode {
	mask := syscall.Umask(0)
	syscall.Umask(mask)
	return os.FileMode(mask)
}

// MovePath renames src to dst, creating dst's parent directories as needed.
// Callers enforce the no-overwrite rule before invoking it.
func MovePath(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}
