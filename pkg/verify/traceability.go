package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/refs"
)

// traceTag matches an identifier chain such as `REQ-42` or `TASK-7.3`:
// an uppercase prefix, a dash, and a dotted numeric suffix.
var traceTag = regexp.MustCompile(`\b([A-Z][A-Z0-9]*-[0-9]+(?:\.[0-9]+)*)\b`)

// Traceability implements `VERIFY traceability [glob]` (spec §4.6):
// every tag defined in a requirements-style source file must be
// referenced from at least one other file in the scanned tree, and
// every tag referenced must be defined somewhere. Definitions are
// lines that begin with a tag (e.g. "TAG: ..." or "TAG - ...");
// references are occurrences in any other file.
func Traceability(ctx context.Context, workspace string, args []string) (Result, error) {
	pattern := "**/*"
	if len(args) > 0 && args[0] != "" {
		pattern = args[0]
	}

	paths, err := refs.WalkGlob(workspace, pattern)
	if err != nil {
		return Result{}, fmt.Errorf("verify: traceability: walk %q: %w", pattern, err)
	}

	defined := map[string]string{}  // tag -> defining file (relative)
	referenced := map[string]bool{} // tag -> seen anywhere

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(workspace, path)
		for _, line := range strings.Split(string(data), "\n") {
			tags := traceTag.FindAllString(line, -1)
			if len(tags) == 0 {
				continue
			}
			trimmed := strings.TrimSpace(line)
			isDef := false
			for _, tag := range tags {
				if strings.HasPrefix(trimmed, tag) {
					isDef = true
					break
				}
			}
			for _, tag := range tags {
				referenced[tag] = true
				if isDef && strings.HasPrefix(trimmed, tag) {
					if _, seen := defined[tag]; !seen {
						defined[tag] = rel
					}
				}
			}
		}
	}

	var errs []string
	for tag := range defined {
		count := 0
		for _, path := range paths {
			if rel, _ := filepath.Rel(workspace, path); rel == defined[tag] {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			count += strings.Count(string(data), tag)
		}
		if count < 1 {
			errs = append(errs, fmt.Sprintf("%s: defined in %s but never referenced elsewhere", tag, defined[tag]))
		}
	}
	for tag := range referenced {
		if _, ok := defined[tag]; !ok {
			errs = append(errs, fmt.Sprintf("%s: referenced but never defined", tag))
		}
	}

	sort.Strings(errs)

	return Result{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: nil,
		Output:   fmt.Sprintf("checked %d tag(s) across %d file(s)", len(defined)+len(referenced), len(paths)),
	}, nil
}
