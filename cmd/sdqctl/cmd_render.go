package main

import (
	"fmt"
	"os"

	"github.com/sdqctl/sdqctl/pkg/render"
)

// cmdRender prints the pre-execution structured document for a
// workflow file (spec §6 `render`). With --json it prints the
// versioned JSON document; otherwise a human-readable listing of
// steps, matching `show`'s plain-text register but at the resolved
// (post-INCLUDE) step level rather than the raw directive level.
func cmdRender(args []string) error {
	jsonOut := false
	var file string
	for _, a := range args {
		if a == "--json" {
			jsonOut = true
			continue
		}
		if file == "" {
			file = a
			continue
		}
		return fmt.Errorf("unknown argument %q", a)
	}
	if file == "" {
		return fmt.Errorf("usage: sdqctl render <file> [--json]")
	}

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

	doc := render.Render(w)

	if jsonOut {
		data, err := render.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("schema_version: %s\n", doc.SchemaVersion)
	fmt.Printf("workflow_hash:  %s\n", doc.WorkflowHash)
	for _, cycle := range doc.Cycles {
		for _, st := range cycle.Steps {
			fmt.Printf("  [%02d] %-14s %s\n", st.Index, st.Type, formatInputs(st.Inputs))
		}
	}
	return nil
}

func formatInputs(inputs map[string]any) string {
	if len(inputs) == 0 {
		return ""
	}
	if text, ok := inputs["text"].(string); ok {
		return truncateForDisplay(text)
	}
	if cmd, ok := inputs["command"].(string); ok {
		return truncateForDisplay(cmd)
	}
	return fmt.Sprintf("%v", inputs)
}

func truncateForDisplay(s string) string {
	const max = 72
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
