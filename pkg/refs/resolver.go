// Package refs resolves workflow Ref patterns (spec §4.3) against a set
// of named workspace roots into an ordered, de-duplicated list of file
// contents, narrowed by line range or symbol regex where requested. The
// glob matcher is adapted from the teacher's own directory walker
// rather than path/filepath.Match, since it needs "**" recursive
// matching that filepath.Match does not support.
package refs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

// Roots maps an alias name to an absolute workspace root directory. The
// empty string key is the default (unaliased) root.
type Roots map[string]string

// Resolved is one resolved context entry.
type Resolved struct {
	Path     string // canonical absolute path
	Contents string
	Ref      wf.Ref
}

// Miss records a pattern that resolved to zero files.
type Miss struct {
	Ref      wf.Ref
	Optional bool
	Reason   string
}

// Result is the outcome of resolving one ordered list of Refs.
type Result struct {
	Entries []Resolved
	Misses  []Miss
}

// Resolve resolves refs against roots in order, applying CONTEXT-EXCLUDE
// removal last so an exclude can remove entries contributed by any
// earlier pattern. Deduplication is by canonical absolute path, keeping
// the first occurrence's position (spec §4.3).
func Resolve(ctx context.Context, roots Roots, refList []wf.Ref) (Result, error) {
	var result Result
	seen := map[string]int{} // path -> index in result.Entries
	var excludes []wf.Ref

	for _, ref := range refList {
		if ref.Exclude {
			excludes = append(excludes, ref)
			continue
		}

		root, ok := roots[ref.Alias]
		if !ok {
			return Result{}, fmt.Errorf("refs: unknown workspace alias %q", ref.Alias)
		}

		matches, err := matchFiles(ctx, root, ref.Pattern)
		if err != nil {
			return Result{}, err
		}
		if len(matches) == 0 {
			result.Misses = append(result.Misses, Miss{Ref: ref, Optional: ref.Optional, Reason: "no files matched pattern"})
			continue
		}

		for _, path := range matches {
			contents, missReason, err := readNarrowed(path, ref)
			if err != nil {
				return Result{}, err
			}
			if missReason != "" {
				result.Misses = append(result.Misses, Miss{Ref: ref, Optional: ref.Optional, Reason: missReason})
				continue
			}

			canon, err := filepath.Abs(path)
			if err != nil {
				canon = path
			}
			if idx, dup := seen[canon]; dup {
				result.Entries[idx].Contents = contents // last narrowing wins for the same path
				continue
			}
			seen[canon] = len(result.Entries)
			result.Entries = append(result.Entries, Resolved{Path: canon, Contents: contents, Ref: ref})
		}
	}

	if len(excludes) > 0 {
		result.Entries = applyExcludes(ctx, roots, result.Entries, excludes)
	}

	return result, nil
}

func applyExcludes(ctx context.Context, roots Roots, entries []Resolved, excludes []wf.Ref) []Resolved {
	excluded := map[string]bool{}
	for _, ex := range excludes {
		root, ok := roots[ex.Alias]
		if !ok {
			continue
		}
		matches, err := matchFiles(ctx, root, ex.Pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if canon, err := filepath.Abs(m); err == nil {
				excluded[canon] = true
			}
		}
	}

	out := entries[:0:0]
	for _, e := range entries {
		if !excluded[e.Path] {
			out = append(out, e)
		}
	}
	return out
}

// readNarrowed reads path and applies the Ref's line-range or symbol
// narrowing. A non-empty miss reason means the narrowing found nothing
// (spec: "if no match, the reference is treated as a miss").
func readNarrowed(path string, ref wf.Ref) (contents string, missReason string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	text := string(data)

	switch {
	case ref.HasSymbol():
		re, err := regexp.Compile(ref.Symbol)
		if err != nil {
			return "", "", fmt.Errorf("refs: invalid symbol pattern %q: %w", ref.Symbol, err)
		}
		span := re.FindString(text)
		if span == "" {
			return "", "no symbol match for #/" + ref.Symbol + "/", nil
		}
		return span, "", nil

	case ref.HasLineRange():
		lines := strings.Split(text, "\n")
		from, to := ref.LineFrom, ref.LineTo
		if from <= 0 {
			from = 1
		}
		if to <= 0 || to > len(lines) {
			to = len(lines)
		}
		if from > len(lines) || from > to {
			return "", fmt.Sprintf("line range L%d-L%d out of bounds", ref.LineFrom, ref.LineTo), nil
		}
		return strings.Join(lines[from-1:to], "\n"), "", nil

	default:
		return text, "", nil
	}
}
