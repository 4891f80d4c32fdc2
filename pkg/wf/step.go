package wf

// Kind discriminates the Step tagged union. A Step carries only the
// fields relevant to its Kind; executors switch on Kind rather than on
// a type hierarchy (spec §9 "Deep inheritance / dynamic dispatch").
type Kind string

const (
	KindPrompt        Kind = "prompt"
	KindRun           Kind = "run"
	KindVerify        Kind = "verify"
	KindContextInject Kind = "context-inject"
	KindCompact       Kind = "compact"
	KindCheckpoint    Kind = "checkpoint"
	KindPause         Kind = "pause"
	KindConsult       Kind = "consult"
	KindCustom        Kind = "custom"
)

// OutputPolicy controls whether a RUN/VERIFY step's captured output is
// injected into the next prompt.
type OutputPolicy string

const (
	OutputAlways  OutputPolicy = "always"
	OutputOnError OutputPolicy = "on-error"
	OutputNever   OutputPolicy = "never"
)

// OnErrorKind discriminates RUN-ON-ERROR / VERIFY-ON-ERROR policy.
type OnErrorKind string

const (
	OnErrorStop     OnErrorKind = "stop"
	OnErrorContinue OnErrorKind = "continue"
	OnErrorRetry    OnErrorKind = "retry"
)

// OnError is the resolved on-error policy for a RUN or VERIFY step.
type OnError struct {
	Kind        OnErrorKind
	RetryCount  int    // only meaningful when Kind == OnErrorRetry
	RetryPrompt string // only meaningful when Kind == OnErrorRetry
}

// DefaultOnError is "stop", matching the teacher's own fail-closed default.
func DefaultOnError() OnError {
	return OnError{Kind: OnErrorStop}
}

// Step is one unit of workflow work. Exactly one of the Kind-specific
// fields below is populated for a given Kind; the rest are zero.
type Step struct {
	Kind Kind
	Line int // 1-based source line, for diagnostics and render traces

	// Elide attaches to this step, requesting its output be folded into
	// the next Prompt step's turn instead of consuming its own send.
	// Never valid on a step immediately preceding a branching block.
	Elide bool

	Prompt        *PromptStep
	Run           *RunStep
	Verify        *VerifyStep
	ContextInject *ContextInjectStep
	Compact       *CompactStep
	Checkpoint    *CheckpointStep
	Pause         *PauseStep
	Consult       *ConsultStep
	Custom        *CustomStep
}

// PromptStep sends text to the assistant backend.
type PromptStep struct {
	Text string
}

// RunStep executes a shell command between prompts.
type RunStep struct {
	Command     string
	Cwd         string
	Env         map[string]string
	Timeout     int64 // nanoseconds; 0 means spec default (10 minutes)
	OutputPolicy OutputPolicy
	OutputLimit int // bytes per stream; 0 means spec default (16 KiB)
	OnError     OnError
	Async       bool
	AllowShell  bool
	Success     []Step // ON-SUCCESS block, flat (no nested branches)
	Failure     []Step // ON-FAILURE block, flat (no nested branches)
}

// VerifyStep runs a named verifier (built-in or plugin-registered).
type VerifyStep struct {
	Kind         string
	Args         []string
	OnError      OnError
	OutputPolicy OutputPolicy
	Limit        int
}

// ContextInjectStep resolves references and prepends their contents to
// the next prompt.
type ContextInjectStep struct {
	Patterns []Ref
}

// CompactStep requests adapter-driven compaction.
type CompactStep struct {
	Preserve []string // overrides Header.CompactPreserve when non-empty
	Prologue string
	Epilogue string
}

// CheckpointStep writes the session's checkpoint record without pausing.
// NEW-CONVERSATION lowers to a CheckpointStep with NewConversation set:
// the engine tears down the current adapter session and opens a fresh
// one before continuing, while the workflow's cycle counter is untouched.
type CheckpointStep struct {
	Name            string
	NewConversation bool
}

// PauseStep durably suspends the session.
type PauseStep struct {
	Message string
}

// ConsultStep durably suspends the session and records a topic for
// resume-time injection.
type ConsultStep struct {
	Topic   string
	Timeout int64 // nanoseconds; 0 means no CONSULT-TIMEOUT set
}

// CustomStep is a plugin-defined directive, dispatched through the
// plugin handler contract (pkg/plugin).
type CustomStep struct {
	Type string
	Name string
	Args []string
}
