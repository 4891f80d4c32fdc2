// Package parser turns workflow source text into a pkg/wf.Workflow
// value. It is line-oriented: one directive per line, a small
// continuation form for folding multi-line bodies, and a single-level
// ON-FAILURE/ON-SUCCESS...END block form for RUN branching (spec §4.1).
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

// Options configures a parse.
type Options struct {
	// FileReader resolves INCLUDE targets. Defaults to the OS filesystem.
	FileReader FileReader
}

// Parse reads workflow source (already loaded into memory) from path and
// produces a Workflow. path is used for INCLUDE resolution and
// diagnostics; it need not exist on disk if opts.FileReader is a fake.
func Parse(path string, source string, opts Options) (*wf.Workflow, []Diagnostic, error) {
	fr := opts.FileReader
	if fr == nil {
		fr = osReader{}
	}

	expanded, err := expandIncludes(fr, path, source)
	if err != nil {
		return nil, nil, err
	}

	directives, err := scan(path, expanded)
	if err != nil {
		return nil, nil, err
	}

	b := &builder{file: path, header: wf.DefaultHeader()}
	b.run(directives)

	if len(b.fatal) > 0 {
		return nil, b.warnings, &Error{Diagnostics: b.fatal}
	}

	if len(b.steps) == 0 {
		b.fatal = append(b.fatal, Diagnostic{
			File: path, Line: 1, Column: 1, Severity: SeverityError,
			Message: "empty workflow: at least one executable step is required",
		})
		return nil, b.warnings, &Error{Diagnostics: b.fatal}
	}

	w := wf.NewWorkflow(path, b.header, b.steps, b.required, b.requireExists, expanded)
	return w, b.warnings, nil
}

// builder accumulates parse state across the directive stream.
type builder struct {
	file   string
	header wf.Header

	steps         []wf.Step
	required      []wf.Ref
	requireExists []string

	seenStep bool // true once the first executable step has been appended

	// lastRun/lastVerify point at the most recently appended Run/Verify
	// step, for modifier directives (RUN-CWD, VERIFY-LIMIT, ...) that
	// apply to "the preceding declaration", Dockerfile-style.
	lastRun    *wf.RunStep
	lastVerify *wf.VerifyStep

	// block holds in-progress ON-FAILURE/ON-SUCCESS block state, nil
	// when not inside a block.
	block *blockState

	pendingContextInject []wf.Ref

	fatal    []Diagnostic
	warnings []Diagnostic
}

type blockState struct {
	onFailure bool // false means ON-SUCCESS
	steps     []wf.Step
	startLine int
}

func (b *builder) errorf(d rawDirective, format string, args ...any) {
	b.fatal = append(b.fatal, Diagnostic{
		File: d.File, Line: d.Line, Column: d.Column, Severity: SeverityError,
		Message: sprintf(format, args...),
	})
}

func (b *builder) warnf(d rawDirective, format string, args ...any) {
	b.warnings = append(b.warnings, Diagnostic{
		File: d.File, Line: d.Line, Column: d.Column, Severity: SeverityWarning,
		Message: sprintf(format, args...),
	})
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func (b *builder) run(directives []rawDirective) {
	for _, d := range directives {
		b.dispatch(d)
	}
	if b.block != nil {
		b.fatal = append(b.fatal, Diagnostic{
			File: b.file, Line: b.block.startLine, Column: 1, Severity: SeverityError,
			Message: "unclosed ON-FAILURE/ON-SUCCESS block: missing END",
		})
	}
}

func (b *builder) dispatch(d rawDirective) {
	if isHeaderDirective(d.Keyword) {
		if b.seenStep {
			b.errorf(d, "header directive %s after first executable step", d.Keyword)
			return
		}
		b.applyHeader(d)
		return
	}

	switch d.Keyword {
	case "CONTEXT":
		ref := parseRef(d.Args)
		b.required = append(b.required, ref)
		b.pendingContextInject = append(b.pendingContextInject, ref)
	case "CONTEXT-OPTIONAL":
		ref := parseRef(d.Args)
		ref.Optional = true
		b.pendingContextInject = append(b.pendingContextInject, ref)
	case "CONTEXT-EXCLUDE":
		ref := parseRef(d.Args)
		ref.Exclude = true
		b.pendingContextInject = append(b.pendingContextInject, ref)
	case "REFCAT":
		ref := parseRef(d.Args)
		b.pendingContextInject = append(b.pendingContextInject, ref)
	case "REQUIRE":
		if strings.TrimSpace(d.Args) != "" {
			b.requireExists = append(b.requireExists, strings.TrimSpace(d.Args))
		}
	case "INCLUDE":
		// already spliced away by expandIncludes; nothing to do.

	case "PROMPT":
		b.flushContextInject()
		b.appendStep(wf.Step{Kind: wf.KindPrompt, Line: d.Line, Prompt: &wf.PromptStep{Text: d.Args}})
	case "PROLOGUE", "EPILOGUE", "HEADER", "FOOTER", "HELP", "HELP-INLINE":
		// Cosmetic prompt-framing directives; each becomes its own
		// Prompt step whose text is the labelled directive body, rather
		// than a distinct step kind (spec's Step variant list names no
		// separate kind for these).
		b.appendStep(wf.Step{Kind: wf.KindPrompt, Line: d.Line, Prompt: &wf.PromptStep{
			Text: "[" + d.Keyword + "]\n" + d.Args,
		}})
	case "ELIDE":
		b.applyElide(d)

	case "RUN":
		b.flushContextInject()
		run := &wf.RunStep{Command: d.Args, OutputPolicy: wf.OutputOnError, OnError: wf.DefaultOnError()}
		b.lastRun = run
		b.appendStepOrBlock(wf.Step{Kind: wf.KindRun, Line: d.Line, Run: run})
	case "RUN-CWD":
		b.withLastRun(d, func(r *wf.RunStep) { r.Cwd = strings.TrimSpace(d.Args) })
	case "RUN-ENV":
		b.withLastRun(d, func(r *wf.RunStep) { applyEnv(r, d.Args) })
	case "RUN-TIMEOUT":
		b.withLastRun(d, func(r *wf.RunStep) { r.Timeout = parseDurationArg(d.Args) })
	case "RUN-OUTPUT":
		b.withLastRun(d, func(r *wf.RunStep) { r.OutputPolicy = parseOutputPolicy(d.Args) })
	case "RUN-OUTPUT-LIMIT":
		b.withLastRun(d, func(r *wf.RunStep) { r.OutputLimit = parseIntArg(d.Args) })
	case "RUN-ON-ERROR":
		b.withLastRun(d, func(r *wf.RunStep) { r.OnError = parseOnError(d.Args) })
	case "RUN-RETRY":
		b.withLastRun(d, func(r *wf.RunStep) { r.OnError = parseRetryShorthand(d.Args) })
	case "RUN-ASYNC":
		b.withLastRun(d, func(r *wf.RunStep) { r.Async = true })
	case "RUN-WAIT":
		b.flushContextInject()
		b.appendStepOrBlock(wf.Step{Kind: wf.KindCustom, Line: d.Line, Custom: &wf.CustomStep{
			Type: "run-wait", Args: []string{strings.TrimSpace(d.Args)},
		}})
	case "ALLOW-SHELL":
		b.withLastRun(d, func(r *wf.RunStep) { r.AllowShell = true })

	case "ON-FAILURE", "ON-SUCCESS":
		b.openBlock(d)
	case "END":
		b.closeBlock(d)

	case "VERIFY":
		b.flushContextInject()
		kind, args := splitFirstWord(d.Args)
		v := &wf.VerifyStep{Kind: kind, Args: args, OutputPolicy: wf.OutputOnError, OnError: wf.DefaultOnError()}
		b.lastVerify = v
		b.appendStepOrBlock(wf.Step{Kind: wf.KindVerify, Line: d.Line, Verify: v})
	case "VERIFY-ON-ERROR":
		b.withLastVerify(d, func(v *wf.VerifyStep) { v.OnError = parseOnError(d.Args) })
	case "VERIFY-OUTPUT":
		b.withLastVerify(d, func(v *wf.VerifyStep) { v.OutputPolicy = parseOutputPolicy(d.Args) })
	case "VERIFY-LIMIT":
		b.withLastVerify(d, func(v *wf.VerifyStep) { v.Limit = parseIntArg(d.Args) })

	case "COMPACT":
		b.flushContextInject()
		preserve := splitCommaList(d.Args)
		b.appendStepOrBlock(wf.Step{Kind: wf.KindCompact, Line: d.Line, Compact: &wf.CompactStep{Preserve: preserve}})
	case "CHECKPOINT":
		b.flushContextInject()
		b.appendStepOrBlock(wf.Step{Kind: wf.KindCheckpoint, Line: d.Line, Checkpoint: &wf.CheckpointStep{Name: strings.TrimSpace(d.Args)}})
	case "NEW-CONVERSATION":
		b.flushContextInject()
		b.appendStepOrBlock(wf.Step{Kind: wf.KindCheckpoint, Line: d.Line, Checkpoint: &wf.CheckpointStep{NewConversation: true}})
	case "PAUSE":
		b.flushContextInject()
		b.appendStepOrBlock(wf.Step{Kind: wf.KindPause, Line: d.Line, Pause: &wf.PauseStep{Message: d.Args}})
	case "CONSULT":
		b.flushContextInject()
		b.appendStepOrBlock(wf.Step{Kind: wf.KindConsult, Line: d.Line, Consult: &wf.ConsultStep{Topic: trimQuotes(d.Args)}})
	case "CONSULT-TIMEOUT":
		b.applyConsultTimeout(d)

	default:
		b.applyCustom(d)
	}
}

func (b *builder) applyHeader(d rawDirective) {
	switch d.Keyword {
	case "MODEL":
		b.header.Model = strings.TrimSpace(d.Args)
	case "MODEL-REQUIRES":
		b.header.ModelRequires = append(b.header.ModelRequires, parseRequirements(d.Args)...)
	case "MODEL-PREFERS":
		b.header.ModelPrefers = append(b.header.ModelPrefers, parseRequirements(d.Args)...)
	case "MODEL-POLICY":
		// Free-form; stashed as a single "policy" requirement for the
		// adapter's select_model to interpret.
		b.header.ModelPrefers = append(b.header.ModelPrefers, wf.ModelRequirement{Key: "policy", Value: strings.TrimSpace(d.Args)})
	case "ADAPTER":
		b.header.Adapter = strings.TrimSpace(d.Args)
	case "MODE":
		switch strings.ToLower(strings.TrimSpace(d.Args)) {
		case "full":
			b.header.Mode = wf.ModeFull
		case "read-only":
			b.header.Mode = wf.ModeReadOnly
		case "audit":
			b.header.Mode = wf.ModeAudit
		default:
			b.errorf(d, "unknown MODE %q", d.Args)
		}
	case "MAX-CYCLES":
		arg := strings.ToLower(strings.TrimSpace(d.Args))
		if arg == "unbounded" || arg == "" {
			b.header.MaxCycles = wf.UnboundedCycles
			return
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			b.errorf(d, "invalid MAX-CYCLES %q", d.Args)
			return
		}
		b.header.MaxCycles = n
	case "SESSION-NAME":
		b.header.SessionName = strings.TrimSpace(d.Args)
	case "VALIDATION-MODE":
		switch strings.ToLower(strings.TrimSpace(d.Args)) {
		case "strict":
			b.header.ValidationMode = wf.ValidationStrict
		case "lenient":
			b.header.ValidationMode = wf.ValidationLenient
		default:
			b.errorf(d, "unknown VALIDATION-MODE %q", d.Args)
		}
	case "INFINITE-SESSIONS":
		b.header.InfiniteSessions = parseBoolArg(d.Args, true)
	case "COMPACTION-MIN":
		b.header.Compaction.Min = parseFloatArg(d.Args, b.header.Compaction.Min)
	case "COMPACTION-THRESHOLD":
		b.header.Compaction.Background = parseFloatArg(d.Args, b.header.Compaction.Background)
	case "COMPACTION-MAX":
		b.header.Compaction.Max = parseFloatArg(d.Args, b.header.Compaction.Max)
	case "COMPACT-PRESERVE":
		b.header.CompactPreserve = splitCommaList(d.Args)
	}
}

func (b *builder) applyElide(d rawDirective) {
	steps := b.currentSteps()
	if len(steps) == 0 {
		b.errorf(d, "ELIDE with no preceding step")
		return
	}
	steps[len(steps)-1].Elide = true
}

func (b *builder) currentSteps() []wf.Step {
	if b.block != nil {
		return b.block.steps
	}
	return b.steps
}

func (b *builder) appendStep(s wf.Step) {
	b.seenStep = true
	b.steps = append(b.steps, s)
}

// appendStepOrBlock appends to the in-progress branch block when one is
// open, otherwise to the top-level step list.
func (b *builder) appendStepOrBlock(s wf.Step) {
	b.seenStep = true
	if b.block != nil {
		b.block.steps = append(b.block.steps, s)
		return
	}
	b.steps = append(b.steps, s)
}

func (b *builder) flushContextInject() {
	if len(b.pendingContextInject) == 0 {
		return
	}
	patterns := b.pendingContextInject
	b.pendingContextInject = nil
	b.appendStepOrBlock(wf.Step{Kind: wf.KindContextInject, ContextInject: &wf.ContextInjectStep{Patterns: patterns}})
}

func (b *builder) withLastRun(d rawDirective, fn func(*wf.RunStep)) {
	if b.lastRun == nil {
		b.errorf(d, "%s with no preceding RUN", d.Keyword)
		return
	}
	fn(b.lastRun)
}

func (b *builder) withLastVerify(d rawDirective, fn func(*wf.VerifyStep)) {
	if b.lastVerify == nil {
		b.errorf(d, "%s with no preceding VERIFY", d.Keyword)
		return
	}
	fn(b.lastVerify)
}

func (b *builder) applyConsultTimeout(d rawDirective) {
	steps := b.currentSteps()
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Kind == wf.KindConsult {
			steps[i].Consult.Timeout = parseDurationArg(d.Args)
			return
		}
	}
	b.errorf(d, "CONSULT-TIMEOUT with no preceding CONSULT")
}

func (b *builder) openBlock(d rawDirective) {
	if b.block != nil {
		b.errorf(d, "nested ON-FAILURE/ON-SUCCESS blocks are forbidden")
		return
	}
	if b.lastRun == nil || len(b.steps) == 0 || b.steps[len(b.steps)-1].Kind != wf.KindRun {
		b.errorf(d, "%s must immediately follow a RUN step", d.Keyword)
		return
	}
	if b.steps[len(b.steps)-1].Elide {
		b.errorf(d, "ELIDE must not appear immediately before a branching block")
		return
	}
	b.block = &blockState{onFailure: d.Keyword == "ON-FAILURE", startLine: d.Line}
}

func (b *builder) closeBlock(d rawDirective) {
	if b.block == nil {
		b.errorf(d, "END with no matching ON-FAILURE/ON-SUCCESS")
		return
	}
	blk := b.block
	b.block = nil
	if blk.onFailure {
		b.lastRun.Failure = blk.steps
	} else {
		b.lastRun.Success = blk.steps
	}
}

func (b *builder) applyCustom(d rawDirective) {
	if isReserved(d.Keyword) {
		// Matched a family table entry but fell through the switch; should
		// not happen given the table above, but fail safe.
		b.errorf(d, "unhandled reserved directive %s", d.Keyword)
		return
	}
	// Custom directives are only resolvable at runtime, against a loaded
	// plugin manifest (spec §4.8). The parser cannot know here whether
	// d.Keyword names a registered handler, so strict mode rejects it
	// outright and lenient mode warns but still emits the step, leaving
	// final resolution to pkg/executor/custom.go (spec §4.1 "unknown
	// directive in strict validation mode (lenient: warn)").
	if b.header.ValidationMode == wf.ValidationStrict {
		b.errorf(d, "unknown directive %s", d.Keyword)
		return
	}
	b.warnf(d, "unknown directive %s: treated as a plugin directive", d.Keyword)
	name, args := splitFirstWord(d.Args)
	b.appendStepOrBlock(wf.Step{Kind: wf.KindCustom, Line: d.Line, Custom: &wf.CustomStep{
		Type: strings.ToLower(d.Keyword),
		Name: name,
		Args: splitArgs(args),
	}})
}
