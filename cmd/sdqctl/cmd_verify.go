package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/pkg/verify"
)

// cmdVerify runs one built-in verifier kind against the workspace
// (spec §6 `verify {refs,links,traceability,...} [args]`), the same
// verify.Registry the VERIFY step executor dispatches through.
func cmdVerify(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl verify <kind> [args]")
	}
	kind := args[0]
	rest := args[1:]

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	registry := verify.NewRegistry()
	result, err := registry.Run(context.Background(), kind, workspace, rest)
	if err != nil {
		return err
	}

	if result.Output != "" {
		fmt.Println(result.Output)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "error: %s\n", e)
	}

	if !result.Passed {
		return errkind.New(errkind.VerifyFailure, fmt.Sprintf("verify %s failed", kind), nil)
	}
	return nil
}
