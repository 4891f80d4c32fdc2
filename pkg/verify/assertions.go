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

// assertionTag matches an inline assertion comment:
//
//	ASSERT-CONTAINS: <text>
//	ASSERT-NOT-CONTAINS: <text>
//	ASSERT-MATCHES: <regex>
//
// placed anywhere in a scanned file, checked against the rest of that
// same file's contents.
var assertionTag = regexp.MustCompile(`ASSERT-(CONTAINS|NOT-CONTAINS|MATCHES):\s*(.+)`)

// Assertions implements `VERIFY assertions [glob]` (spec §4.6): scans
// files for ASSERT-* comment directives and checks each one against
// its own file's content, the cheapest of the six built-in kinds and
// the one most directly analogous to a unit-test assertion.
func Assertions(ctx context.Context, workspace string, args []string) (Result, error) {
	pattern := "**/*"
	if len(args) > 0 && args[0] != "" {
		pattern = args[0]
	}

	paths, err := refs.WalkGlob(workspace, pattern)
	if err != nil {
		return Result{}, fmt.Errorf("verify: assertions: walk %q: %w", pattern, err)
	}

	var errs []string
	var checked int

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := string(data)
		rel, _ := filepath.Rel(workspace, path)

		lines := strings.Split(content, "\n")
		for lineNo, line := range lines {
			m := assertionTag.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			checked++
			kind, arg := m[1], strings.TrimSpace(m[2])
			rest := strings.Join(append(lines[:lineNo:lineNo], lines[lineNo+1:]...), "\n")

			switch kind {
			case "CONTAINS":
				if !strings.Contains(rest, arg) {
					errs = append(errs, fmt.Sprintf("%s:%d: ASSERT-CONTAINS %q failed", rel, lineNo+1, arg))
				}
			case "NOT-CONTAINS":
				if strings.Contains(rest, arg) {
					errs = append(errs, fmt.Sprintf("%s:%d: ASSERT-NOT-CONTAINS %q failed", rel, lineNo+1, arg))
				}
			case "MATCHES":
				re, err := regexp.Compile(arg)
				if err != nil {
					errs = append(errs, fmt.Sprintf("%s:%d: ASSERT-MATCHES %q: invalid regex: %v", rel, lineNo+1, arg, err))
					continue
				}
				if !re.MatchString(rest) {
					errs = append(errs, fmt.Sprintf("%s:%d: ASSERT-MATCHES %q failed", rel, lineNo+1, arg))
				}
			}
		}
	}

	sort.Strings(errs)

	return Result{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: nil,
		Output:   fmt.Sprintf("checked %d assertion(s) across %d file(s)", checked, len(paths)),
	}, nil
}
