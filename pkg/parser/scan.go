package parser

import (
	"errors"
	"strings"
)

// rawDirective is one fully-assembled directive line: keyword plus its
// argument text (continuation bodies already folded in), with its
// originating file and line number for diagnostics.
type rawDirective struct {
	File    string
	Line    int
	Column  int
	Keyword string // canonical, uppercase
	Args    string
}

// scan tokenizes workflow source into a sequence of rawDirectives,
// dropping comments and blank lines and folding `KEYWORD |` continuation
// bodies into a single argument string (spec §4.1/§6).
func scan(file, source string) ([]rawDirective, error) {
	lines := strings.Split(source, "\n")
	var out []rawDirective

	i := 0
	for i < len(lines) {
		lineNo := i + 1
		raw := lines[i]
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			i++
			continue
		}

		col := len(raw) - len(strings.TrimLeft(raw, " \t")) + 1
		keyword, args, hasArgs := strings.Cut(trimmed, " ")
		if !hasArgs {
			args = ""
		}
		keyword = canonicalKeyword(keyword)
		args = strings.TrimSpace(args)

		if args == "|" {
			body, consumed, err := readContinuation(lines, i+1)
			if err != nil {
				return nil, &Error{Diagnostics: []Diagnostic{{
					File: file, Line: lineNo, Column: col, Severity: SeverityError,
					Message: "unclosed continuation form for " + keyword,
				}}}
			}
			args = body
			i += consumed
		}

		out = append(out, rawDirective{
			File: file, Line: lineNo, Column: col,
			Keyword: keyword, Args: args,
		})
		i++
	}

	return out, nil
}

// readContinuation consumes indented lines starting at idx until a line
// returns to column 0 with new directive content (or EOF), stripping the
// first body line's indentation from each line and joining the body
// with newlines. Returns the number of lines consumed after the
// `KEYWORD |` line itself.
func readContinuation(lines []string, idx int) (string, int, error) {
	var body []string
	consumed := 0
	indent := ""
	for idx+consumed < len(lines) {
		line := lines[idx+consumed]
		if strings.TrimSpace(line) == "" {
			body = append(body, "")
			consumed++
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			break
		}
		if indent == "" {
			indent = line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		}
		body = append(body, strings.TrimPrefix(line, indent))
		consumed++
	}
	// Trim trailing blank lines from the folded body.
	for len(body) > 0 && body[len(body)-1] == "" {
		body = body[:len(body)-1]
	}
	if len(body) == 0 {
		return "", 0, errUnclosedContinuation
	}
	return strings.Join(body, "\n"), consumed, nil
}

var errUnclosedContinuation = errors.New("unclosed continuation form")
