package wf

// Ref is a file reference: a glob/path pattern, optionally narrowed to a
// line range or a symbol/regex span, optionally scoped to a named
// workspace root (alias). See spec §4.3/§6 for the reference grammar.
type Ref struct {
	Pattern string
	Alias   string // workspace-root alias prefix, e.g. "alias:pattern"

	// One of LineFrom/LineTo or Symbol may be set, never both.
	LineFrom int
	LineTo   int
	Symbol   string // regex pattern for "#/regex/" extraction

	// Optional governs CONTEXT-OPTIONAL semantics: a miss never errors,
	// only warns, regardless of validation mode.
	Optional bool

	// Exclude marks this Ref as a CONTEXT-EXCLUDE entry: matching
	// resolved files are removed from the final set rather than added.
	Exclude bool
}

// HasLineRange reports whether the Ref narrows to an explicit line range.
func (r Ref) HasLineRange() bool {
	return r.LineFrom > 0 || r.LineTo > 0
}

// HasSymbol reports whether the Ref narrows via a regex/symbol pattern.
func (r Ref) HasSymbol() bool {
	return r.Symbol != ""
}
