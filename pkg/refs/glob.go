package refs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WalkGlob exposes matchFiles to callers outside the package (the
// `refs` VERIFY kind in pkg/verify scans a tree for bare patterns
// without going through a wf.Ref first).
func WalkGlob(root, pattern string) ([]string, error) {
	return matchFiles(context.Background(), root, pattern)
}

// matchFiles walks root looking for files whose path relative to root
// matches pattern. A pattern with no wildcard characters is treated as
// a literal path (relative to root) and checked for existence directly,
// without a full tree walk.
func matchFiles(ctx context.Context, root, pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?") {
		full := filepath.Join(root, pattern)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return []string{full}, nil
		}
		return nil, nil
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if matchGlob(rel, pattern) {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

// matchGlob reports whether path matches pattern, honoring a "**"
// recursive-directory wildcard that path/filepath.Match cannot express.
// Adapted from the teacher's index walker glob matcher.
func matchGlob(path, pattern string) bool {
	path = filepath.ToSlash(path)
	pattern = filepath.ToSlash(pattern)

	if strings.Contains(pattern, "**") {
		return matchDoubleGlob(path, pattern)
	}
	return matchSimpleGlob(path, pattern)
}

func matchSimpleGlob(path, pattern string) bool {
	pi, si := 0, 0
	for pi < len(pattern) && si < len(path) {
		switch pattern[pi] {
		case '*':
			pi++
			if pi >= len(pattern) {
				return !strings.Contains(path[si:], "/")
			}
			for si < len(path) && path[si] != '/' {
				if matchSimpleGlob(path[si:], pattern[pi:]) {
					return true
				}
				si++
			}
			return matchSimpleGlob(path[si:], pattern[pi:])
		case '?':
			if path[si] == '/' {
				return false
			}
			pi++
			si++
		default:
			if pattern[pi] != path[si] {
				return false
			}
			pi++
			si++
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi >= len(pattern) && si >= len(path)
}

func matchDoubleGlob(path, pattern string) bool {
	parts := strings.Split(pattern, "**")

	if parts[0] != "" {
		if !strings.HasPrefix(path, strings.TrimSuffix(parts[0], "/")) &&
			!matchSimpleGlob(path, parts[0]+"*") {
			return false
		}
	}

	if len(parts) > 1 && parts[len(parts)-1] != "" {
		trailing := strings.TrimPrefix(parts[len(parts)-1], "/")
		if !matchSimpleGlob(filepath.Base(path), trailing) && !strings.HasSuffix(path, trailing) {
			return false
		}
	}

	return true
}
