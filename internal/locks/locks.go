// Package locks provides on-disk advisory path locks for tasks. Each locked
// path gets one lock file created with O_EXCL so acquisition survives a
// crashed process and stays inspectable. Overlap detection treats a lock on
// a directory as covering everything beneath it: two tasks may never hold
// locks on a path and any of its ancestors or descendants at the same time.
package locks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coworkerhq/coworker/internal/plan"
	"github.com/coworkerhq/coworker/internal/policy"
)

// Handle owns a set of acquired lock files. An empty handle signals that
// acquisition failed due to a conflict.
type Handle struct {
	Paths     []string
	lockFiles []string
}

// Empty reports whether the handle holds no locks.
func (h *Handle) Empty() bool { return len(h.lockFiles) == 0 }

// Release unlinks every lock file in the handle. Missing files are ignored,
// so Release is idempotent.
func (h *Handle) Release() {
	releaseFiles(h.lockFiles)
	h.Paths = nil
	h.lockFiles = nil
}

func releaseFiles(lockFiles []string) {
	for _, lf := range lockFiles {
		os.Remove(lf)
	}
}

// AcquireLocks locks the given paths for taskID. Paths are resolved,
// de-duplicated, and pruned so that a path covered by another requested path
// is not locked twice. Any overlap with a lock held by a different task
// aborts the whole acquisition: partial locks are released and an empty
// handle is returned. Re-acquiring paths already locked by the same task
// succeeds.
func AcquireLocks(paths []string, locksDir, taskID, owner string) (*Handle, error) {
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, err
	}
	normalized := normalizePaths(paths)

	existing, err := readLockDir(locksDir)
	if err != nil {
		return nil, err
	}

	var lockFiles []string
	for _, path := range normalized {
		if conflictsWithExisting(path, taskID, existing) {
			releaseFiles(lockFiles)
			return &Handle{}, nil
		}
		lockFile := filepath.Join(locksDir, LockName(path))
		if _, statErr := os.Lstat(lockFile); statErr == nil {
			if readLockField(lockFile, "task_id") != taskID {
				releaseFiles(lockFiles)
				return &Handle{}, nil
			}
		} else if !createLock(lockFile, path, taskID, owner) {
			releaseFiles(lockFiles)
			return &Handle{}, nil
		}
		lockFiles = append(lockFiles, lockFile)
	}
	return &Handle{Paths: normalized, lockFiles: lockFiles}, nil
}

// ReleaseTaskLocks unlinks the lock files for the given paths, but only
// those still owned by taskID.
func ReleaseTaskLocks(paths []string, locksDir, taskID string) {
	for _, path := range normalizePaths(paths) {
		lockFile := filepath.Join(locksDir, LockName(path))
		if _, err := os.Lstat(lockFile); err != nil {
			continue
		}
		if readLockField(lockFile, "task_id") != taskID {
			continue
		}
		os.Remove(lockFile)
	}
}

// LockName derives the lock file name for an absolute path.
func LockName(path string) string {
	digest := sha256.Sum256([]byte(path))
	safe := strings.ReplaceAll(filepath.Base(path), " ", "_")
	if safe == "" || safe == "/" {
		safe = "root"
	}
	return fmt.Sprintf("lock-%s-%s.lock", safe, hex.EncodeToString(digest[:])[:16])
}

// normalizePaths resolves and de-duplicates the input, then prunes any path
// that is a descendant of another kept path. Shallower paths sort first so
// the covering ancestor is always kept.
func normalizePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		r := policy.ResolvePath(p)
		if !seen[r] {
			seen[r] = true
			resolved = append(resolved, r)
		}
	}
	sort.Slice(resolved, func(i, j int) bool {
		di := strings.Count(resolved[i], string(filepath.Separator))
		dj := strings.Count(resolved[j], string(filepath.Separator))
		if di != dj {
			return di < dj
		}
		return resolved[i] < resolved[j]
	})
	var kept []string
	for _, p := range resolved {
		covered := false
		for _, k := range kept {
			if policy.WithinRoot(p, k) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, p)
		}
	}
	return kept
}

type lockEntry struct {
	file   string
	path   string
	taskID string
}

func readLockDir(locksDir string) ([]lockEntry, error) {
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		return nil, err
	}
	var out []lockEntry
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "lock-") || !strings.HasSuffix(name, ".lock") {
			continue
		}
		file := filepath.Join(locksDir, name)
		out = append(out, lockEntry{
			file:   file,
			path:   readLockField(file, "path"),
			taskID: readLockField(file, "task_id"),
		})
	}
	return out, nil
}

// conflictsWithExisting reports whether any lock file held by another task
// covers path or is covered by it.
func conflictsWithExisting(path, taskID string, existing []lockEntry) bool {
	for _, entry := range existing {
		if entry.taskID == taskID || entry.path == "" {
			continue
		}
		if policy.WithinRoot(path, entry.path) || policy.WithinRoot(entry.path, path) {
			return true
		}
	}
	return false
}

func createLock(lockFile, path, taskID, owner string) bool {
	f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()
	payload := fmt.Sprintf("path=%s\ntask_id=%s\nowner=%s\ncreated_at=%s\n",
		path, taskID, owner, plan.UTCNow())
	if _, err := f.WriteString(payload); err != nil {
		os.Remove(lockFile)
		return false
	}
	return true
}

func readLockField(lockFile, key string) string {
	raw, err := os.ReadFile(lockFile)
	if err != nil {
		return ""
	}
	prefix := key + "="
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
