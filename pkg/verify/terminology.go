package verify

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/sdqctl/sdqctl/pkg/refs"
)

// termsConfig is loaded from <workspace>/.sdqctl/terminology.toml, a
// simple deprecated-term -> preferred-term map.
type termsConfig struct {
	Deprecated map[string]string `toml:"deprecated"`
}

// Terminology implements `VERIFY terminology [glob]` (spec §4.6): flags
// occurrences of terms listed as deprecated in .sdqctl/terminology.toml,
// suggesting the configured replacement. A missing config file means
// nothing to check, not an error (so the kind is safe to enable by
// default in workflows that don't use it).
func Terminology(ctx context.Context, workspace string, args []string) (Result, error) {
	pattern := "**/*"
	if len(args) > 0 && args[0] != "" {
		pattern = args[0]
	}

	var cfg termsConfig
	cfgPath := filepath.Join(workspace, ".sdqctl", "terminology.toml")
	if _, err := toml.DecodeFile(cfgPath, &cfg); err != nil {
		if !os.IsNotExist(err) {
			return Result{}, fmt.Errorf("verify: terminology: load %s: %w", cfgPath, err)
		}
	}

	if len(cfg.Deprecated) == 0 {
		return Result{Passed: true, Output: "no deprecated terms configured"}, nil
	}

	paths, err := refs.WalkGlob(workspace, pattern)
	if err != nil {
		return Result{}, fmt.Errorf("verify: terminology: walk %q: %w", pattern, err)
	}

	var errs []string
	var hits int
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(workspace, path)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			lower := strings.ToLower(line)
			for term, replacement := range cfg.Deprecated {
				if strings.Contains(lower, strings.ToLower(term)) {
					hits++
					errs = append(errs, fmt.Sprintf("%s:%d: deprecated term %q (use %q)", rel, lineNo, term, replacement))
				}
			}
		}
		f.Close()
	}

	sort.Strings(errs)

	return Result{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: nil,
		Output:   fmt.Sprintf("checked %d term(s) across %d file(s), %d hit(s)", len(cfg.Deprecated), len(paths), hits),
	}, nil
}
