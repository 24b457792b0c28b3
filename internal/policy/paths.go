package policy

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandUser replaces a leading "~" or "~/" with the current user's home
// directory. Paths that do not start with a tilde are returned unchanged.
func ExpandUser(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// ResolvePath expands a leading tilde, makes the path absolute, and resolves
// symlinks through the deepest existing ancestor. The target itself does not
// have to exist.
func ResolvePath(path string) string {
	abs, err := filepath.Abs(ExpandUser(path))
	if err != nil {
		return filepath.Clean(path)
	}
	return resolveExisting(abs)
}

func resolveExisting(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	dir, base := filepath.Split(filepath.Clean(abs))
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	if dir == "" || dir == abs {
		return abs
	}
	return filepath.Join(resolveExisting(dir), base)
}

// WithinRoot reports whether path equals root or sits below it. Both inputs
// must already be absolute, resolved paths.
func WithinRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

func withinRoots(path string, roots []string) bool {
	for _, root := range roots {
		if WithinRoot(path, root) {
			return true
		}
	}
	return false
}

// HostAllowed reports whether host matches an allowlist entry exactly or as
// a subdomain (suffix match on dot boundaries). Matching is case-insensitive.
func HostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(host)
	for _, entry := range allowlist {
		candidate := strings.ToLower(entry)
		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return true
		}
	}
	return false
}

func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
