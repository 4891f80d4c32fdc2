package parser

import (
	"strconv"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

// parseRef parses one argument token of a CONTEXT/CONTEXT-OPTIONAL/
// CONTEXT-EXCLUDE/REFCAT directive into a wf.Ref. Grammar (spec §4.3/§6):
//
//	[alias:]pattern[#Lfrom-Lto | #/regex/]
//
// A leading "@" is accepted and stripped for symmetry with prompt-body
// references, but is not required in directive arguments.
// ParseRef exposes the reference grammar to callers outside the parser
// package, notably the `refs` VERIFY kind (pkg/verify), which scans
// arbitrary text for `@pattern` tokens and resolves them the same way a
// CONTEXT directive would rather than re-implementing the grammar.
func ParseRef(token string) wf.Ref {
	return parseRef(token)
}

func parseRef(token string) wf.Ref {
	token = strings.TrimPrefix(strings.TrimSpace(token), "@")

	var ref wf.Ref

	if idx := strings.Index(token, ":"); idx > 0 && !strings.ContainsAny(token[:idx], "/\\*?") {
		// Guard against Windows-style drive letters / globs containing ':'.
		ref.Alias = token[:idx]
		token = token[idx+1:]
	}

	if hashIdx := strings.Index(token, "#"); hashIdx >= 0 {
		suffix := token[hashIdx+1:]
		ref.Pattern = token[:hashIdx]
		parseSuffix(suffix, &ref)
	} else {
		ref.Pattern = token
	}

	return ref
}

func parseSuffix(suffix string, ref *wf.Ref) {
	if strings.HasPrefix(suffix, "/") && strings.HasSuffix(suffix, "/") && len(suffix) >= 2 {
		ref.Symbol = suffix[1 : len(suffix)-1]
		return
	}
	if strings.HasPrefix(suffix, "L") {
		rest := suffix[1:]
		from, to, ok := strings.Cut(rest, "-L")
		if !ok {
			from, to, ok = strings.Cut(rest, "-")
		}
		if ok {
			if f, err := strconv.Atoi(from); err == nil {
				ref.LineFrom = f
			}
			if t, err := strconv.Atoi(strings.TrimPrefix(to, "L")); err == nil {
				ref.LineTo = t
			}
		}
	}
}
