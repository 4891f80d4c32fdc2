package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// runContextInject implements the CONTEXT-INJECT executor (spec §4.3,
// §4.6): resolve the step's reference patterns against the workspace
// roots and queue their contents to be folded into the next Prompt.
// Missing optional references are silently dropped; a missing required
// reference is an error (mirroring REQUIRE's pre-flight check, applied
// here at run time since CONTEXT-INJECT can reference a path only the
// workflow itself produces mid-run, e.g. a RUN step's own output file).
func runContextInject(ctx context.Context, ec *Context, step *wf.ContextInjectStep) error {
	res, err := refs.Resolve(ctx, ec.Roots, step.Patterns)
	if err != nil {
		return fmt.Errorf("executor: context-inject: %w", err)
	}

	for _, miss := range res.Misses {
		if !miss.Optional {
			return fmt.Errorf("executor: context-inject: required reference %q did not resolve: %s", miss.Ref.Pattern, miss.Reason)
		}
	}

	var sb strings.Builder
	for _, entry := range res.Entries {
		sb.WriteString(fmt.Sprintf("### %s\n%s\n", entry.Path, entry.Contents))
	}
	ec.QueuePending(sb.String())

	return nil
}
