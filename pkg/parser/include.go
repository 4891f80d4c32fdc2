package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileReader abstracts file access so tests can supply an in-memory
// filesystem without touching disk.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// osReader is the default FileReader, backed by os.ReadFile.
type osReader struct{}

func (osReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// expandIncludes performs textual substitution of INCLUDE directives at
// parse time, tracking an inclusion stack to reject cycles (spec §4.1).
// Returns the fully-spliced source text, which Workflow.Hash is computed
// over.
func expandIncludes(fr FileReader, rootPath string, source string) (string, error) {
	return expandIncludesStack(fr, rootPath, source, []string{absOrSelf(rootPath)})
}

func expandIncludesStack(fr FileReader, path, source string, stack []string) (string, error) {
	lines := strings.Split(source, "\n")
	var out []string

	for i, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		upper := strings.ToUpper(trimmed)
		if !strings.HasPrefix(upper, "INCLUDE ") && upper != "INCLUDE" {
			out = append(out, raw)
			continue
		}

		_, rest, _ := strings.Cut(trimmed, " ")
		includePath := strings.TrimSpace(rest)
		if includePath == "" {
			return "", &Error{Diagnostics: []Diagnostic{{
				File: path, Line: i + 1, Column: 1, Severity: SeverityError,
				Message: "INCLUDE requires a path argument",
			}}}
		}

		resolved := includePath
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(path), includePath)
		}
		resolved = absOrSelf(resolved)

		for _, seen := range stack {
			if seen == resolved {
				return "", &Error{Diagnostics: []Diagnostic{{
					File: path, Line: i + 1, Column: 1, Severity: SeverityError,
					Message: fmt.Sprintf("INCLUDE cycle detected: %s", resolved),
				}}}
			}
		}

		data, err := fr.ReadFile(resolved)
		if err != nil {
			return "", &Error{Diagnostics: []Diagnostic{{
				File: path, Line: i + 1, Column: 1, Severity: SeverityError,
				Message: fmt.Sprintf("INCLUDE %s: %v", includePath, err),
			}}}
		}

		spliced, err := expandIncludesStack(fr, resolved, string(data), append(stack, resolved))
		if err != nil {
			return "", err
		}
		out = append(out, spliced)
	}

	return strings.Join(out, "\n"), nil
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
