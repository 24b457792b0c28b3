package fstools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadText_Bounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadText(path, 5)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	got, err = ReadText(path, 1000)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestReadText_InvalidUTF8Replaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin.txt")
	if err := os.WriteFile(path, []byte{'a', 0xff, 'b'}, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadText(path, 100)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if got != "a�b" {
		t.Errorf("got %q, want replacement rune", got)
	}
}

func TestListDir_SortedAndCapped(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	names, err := ListDir(dir, 0)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	want := []string{"a.txt", "b.txt", "c.txt"}
	if len(names) != 3 || names[0] != want[0] || names[1] != want[1] || names[2] != want[2] {
		t.Errorf("names = %v, want %v", names, want)
	}

	names, err = ListDir(dir, 2)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 2 || names[1] != "b.txt" {
		t.Errorf("capped names = %v", names)
	}
}

func TestProposeWriteFile_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.txt")
	diff, err := ProposeWriteFile(path, "line1\nline2\n", 0)
	if err != nil {
		t.Fatalf("ProposeWriteFile: %v", err)
	}
	if !strings.Contains(diff, "+line1") || !strings.Contains(diff, "+line2") {
		t.Errorf("diff missing additions:\n%s", diff)
	}
	if strings.Contains(diff, "\n-") {
		t.Errorf("diff for new file should have no removals:\n%s", diff)
	}
}

func TestProposeWriteFile_Existing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("old line\nshared\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	diff, err := ProposeWriteFile(path, "new line\nshared\n", 0)
	if err != nil {
		t.Fatalf("ProposeWriteFile: %v", err)
	}
	if !strings.Contains(diff, "-old line") || !strings.Contains(diff, "+new line") {
		t.Errorf("unexpected diff:\n%s", diff)
	}
	if !strings.Contains(diff, "--- "+path) || !strings.Contains(diff, "+++ "+path) {
		t.Errorf("diff headers should name the target path:\n%s", diff)
	}
}

func TestApplyWriteFile_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "new.txt")
	if err := ApplyWriteFile(path, "content"); err != nil {
		t.Fatalf("ApplyWriteFile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "content" {
		t.Errorf("content = %q", raw)
	}
}

func TestApplyWriteFile_PreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := ApplyWriteFile(path, "new"); err != nil {
		t.Fatalf("ApplyWriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "new" {
		t.Errorf("content = %q", raw)
	}
}

func TestApplyWriteFile_ThroughSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	link := filepath.Join(dir, "link.txt")
	if err := os.WriteFile(target, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	if err := ApplyWriteFile(link, "updated"); err != nil {
		t.Fatalf("ApplyWriteFile: %v", err)
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "updated" {
		t.Errorf("target content = %q", raw)
	}
	info, err := os.Lstat(link)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("symlink should survive the write")
	}
}

func TestApplyWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := ApplyWriteFile(path, "x"); err != nil {
		t.Fatalf("ApplyWriteFile: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.txt" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestMovePath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := MovePath(src, dst); err != nil {
		t.Fatalf("MovePath: %v", err)
	}
	if _, err := os.Lstat(src); !os.IsNotExist(err) {
		t.Error("src should be gone")
	}
	raw, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "payload" {
		t.Errorf("dst content = %q", raw)
	}
}
