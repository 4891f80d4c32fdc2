package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sdqctl/sdqctl/pkg/parser"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// refToken matches an `@pattern[#suffix]` reference inside arbitrary
// text, the same token shape CONTEXT/REFCAT directive arguments accept
// (spec §4.3/§6).
var refToken = regexp.MustCompile(`@[^\s"']+`)

// Refs implements `VERIFY refs [glob]` (spec §4.6): every `@`-reference
// found in the scanned tree must resolve to >=1 file, using the same
// grammar and resolver as CONTEXT directives (pkg/parser.ParseRef,
// pkg/refs.Resolve) rather than a bespoke checker.
func Refs(ctx context.Context, workspace string, args []string) (Result, error) {
	pattern := "**/*"
	if len(args) > 0 && args[0] != "" {
		pattern = args[0]
	}

	paths, err := refs.WalkGlob(workspace, pattern)
	if err != nil {
		return Result{}, fmt.Errorf("verify: refs: walk %q: %w", pattern, err)
	}

	roots := refs.Roots{"": workspace}
	var errs, warns []string
	var checked int

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			warns = append(warns, fmt.Sprintf("%s: unreadable: %v", path, err))
			continue
		}
		rel, _ := filepath.Rel(workspace, path)
		for _, tok := range refToken.FindAllString(string(data), -1) {
			ref := parser.ParseRef(tok)
			if ref.Pattern == "" {
				continue
			}
			checked++

			res, rerr := refs.Resolve(ctx, roots, []wf.Ref{ref})
			if rerr != nil {
				errs = append(errs, fmt.Sprintf("%s: %s: %v", rel, tok, rerr))
				continue
			}
			if len(res.Entries) == 0 {
				errs = append(errs, fmt.Sprintf("%s: %s: unresolved", rel, tok))
			}
		}
	}

	return Result{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
		Output:   fmt.Sprintf("checked %d reference(s) across %d file(s)", checked, len(paths)),
	}, nil
}
