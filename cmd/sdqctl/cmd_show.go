package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

// cmdShow prints the parsed workflow in a human-readable form (spec §6
// `show`): header metadata, then the step list with branch blocks
// indented under their parent RUN, mirroring the authored directive
// structure rather than render's flattened trace view.
func cmdShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl show <file>")
	}
	file := args[0]

	w, diags, err := parseWorkflowFile(file)
	if err != nil {
		return err
	}
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Error())
	}
	if w == nil {
		return fmt.Errorf("%s: failed to parse", file)
	}

	h := w.Header
	fmt.Printf("workflow: %s\n", file)
	fmt.Printf("  hash:            %s\n", w.Hash())
	if h.Model != "" {
		fmt.Printf("  model:           %s\n", h.Model)
	}
	if h.Adapter != "" {
		fmt.Printf("  adapter:         %s\n", h.Adapter)
	}
	fmt.Printf("  mode:            %s\n", h.Mode)
	if h.MaxCycles == wf.UnboundedCycles {
		fmt.Printf("  max-cycles:      unbounded\n")
	} else {
		fmt.Printf("  max-cycles:      %d\n", h.MaxCycles)
	}
	if h.SessionName != "" {
		fmt.Printf("  session-name:    %s\n", h.SessionName)
	}
	fmt.Printf("  validation-mode: %s\n", h.ValidationMode)
	fmt.Printf("  compaction:      min=%.0f%% background=%.0f%% max=%.0f%%\n",
		h.Compaction.Min, h.Compaction.Background, h.Compaction.Max)
	fmt.Printf("  infinite-sessions: %v\n", h.InfiniteSessions)
	if len(h.CompactPreserve) > 0 {
		fmt.Printf("  compact-preserve: %s\n", strings.Join(h.CompactPreserve, ", "))
	}
	if len(w.RequiredContext) > 0 {
		fmt.Println("  required-context:")
		for _, r := range w.RequiredContext {
			fmt.Printf("    - %s\n", r.Pattern)
		}
	}

	fmt.Println("  steps:")
	showSteps(w.Steps, "    ")
	return nil
}

func showSteps(steps []wf.Step, indent string) {
	for i, s := range steps {
		label := indent
		if s.Elide {
			label += "[elide] "
		}
		switch s.Kind {
		case wf.KindPrompt:
			fmt.Printf("%s%02d PROMPT %s\n", label, i, truncateForDisplay(s.Prompt.Text))
		case wf.KindRun:
			fmt.Printf("%s%02d RUN %s\n", label, i, s.Run.Command)
			if len(s.Run.Success) > 0 {
				fmt.Printf("%s   ON-SUCCESS:\n", indent)
				showSteps(s.Run.Success, indent+"      ")
			}
			if len(s.Run.Failure) > 0 {
				fmt.Printf("%s   ON-FAILURE:\n", indent)
				showSteps(s.Run.Failure, indent+"      ")
			}
		case wf.KindVerify:
			fmt.Printf("%s%02d VERIFY %s %s\n", label, i, s.Verify.Kind, strings.Join(s.Verify.Args, " "))
		case wf.KindContextInject:
			patterns := make([]string, len(s.ContextInject.Patterns))
			for j, p := range s.ContextInject.Patterns {
				patterns[j] = p.Pattern
			}
			fmt.Printf("%s%02d CONTEXT-INJECT %s\n", label, i, strings.Join(patterns, " "))
		case wf.KindCompact:
			if s.Compact.Preserve != nil {
				fmt.Printf("%s%02d COMPACT preserve=%s\n", label, i, strings.Join(s.Compact.Preserve, ","))
			} else {
				fmt.Printf("%s%02d COMPACT\n", label, i)
			}
		case wf.KindCheckpoint:
			if s.Checkpoint.NewConversation {
				fmt.Printf("%s%02d NEW-CONVERSATION\n", label, i)
			} else {
				fmt.Printf("%s%02d CHECKPOINT %s\n", label, i, s.Checkpoint.Name)
			}
		case wf.KindPause:
			fmt.Printf("%s%02d PAUSE %s\n", label, i, s.Pause.Message)
		case wf.KindConsult:
			fmt.Printf("%s%02d CONSULT %s\n", label, i, s.Consult.Topic)
		case wf.KindCustom:
			fmt.Printf("%s%02d %s %s %s\n", label, i, s.Custom.Type, s.Custom.Name, strings.Join(s.Custom.Args, " "))
		}
	}
}
