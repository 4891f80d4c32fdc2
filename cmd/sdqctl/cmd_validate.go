package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

type validateFlags struct {
	file         string
	strict       bool
	allowMissing bool
	exclude      []string
}

func parseValidateFlags(args []string) (validateFlags, error) {
	var f validateFlags
	if len(args) < 1 {
		return f, fmt.Errorf("usage: sdqctl validate <file> [--strict] [--allow-missing] [--exclude GLOB]*")
	}
	f.file = args[0]
	for i := 1; i < len(args); i++ {
		switch a := args[i]; a {
		case "--strict":
			f.strict = true
		case "--allow-missing":
			f.allowMissing = true
		case "--exclude":
			if i+1 >= len(args) {
				return f, fmt.Errorf("flag --exclude requires a value")
			}
			i++
			f.exclude = append(f.exclude, args[i])
		default:
			return f, fmt.Errorf("unknown flag %q", a)
		}
	}
	return f, nil
}

// cmdValidate parses the workflow, resolves its required context, and
// reports diagnostics without contacting any adapter (spec §6 `validate`).
// `validate(W) == validate(validate(W))`: this command is a pure function
// of the workflow file and the filesystem (spec §8).
func cmdValidate(args []string) error {
	flags, err := parseValidateFlags(args)
	if err != nil {
		return err
	}

	w, diags, err := parseWorkflowFile(flags.file)
	if err != nil {
		return err
	}

	hadError := false
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Error())
		if d.Severity == "error" || (flags.strict && d.Severity == "warning") {
			hadError = true
		}
	}
	if w == nil {
		return errkind.New(errkind.Parse, "workflow failed to parse", nil).WithLocation(flags.file, 0, 0)
	}

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	for _, p := range flags.exclude {
		w.RequiredContext = append(w.RequiredContext, wf.Ref{Pattern: p, Exclude: true})
	}

	result, rerr := refs.Resolve(context.Background(), workspaceRoots(workspace), w.RequiredContext)
	if rerr != nil {
		return fmt.Errorf("resolve required context: %w", rerr)
	}
	for _, miss := range result.Misses {
		severity := "warning"
		fatal := false
		if !miss.Optional && !flags.allowMissing && (flags.strict || w.Header.ValidationMode == wf.ValidationStrict) {
			severity = "error"
			fatal = true
		}
		fmt.Fprintf(os.Stderr, "%s: required context %q: %s\n", severity, miss.Ref.Pattern, miss.Reason)
		if fatal {
			hadError = true
		}
	}

	for _, p := range w.RequireExists {
		if _, err := os.Stat(resolveAgainst(workspace, p)); err != nil {
			fmt.Fprintf(os.Stderr, "error: required path %q does not exist\n", p)
			hadError = true
		}
	}

	if hadError {
		return errkind.New(errkind.Validation, "validation failed", nil).WithLocation(flags.file, 0, 0)
	}
	fmt.Printf("%s: ok (%d steps, %d context files resolved)\n", flags.file, len(w.Steps), len(result.Entries))
	return nil
}

func resolveAgainst(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
