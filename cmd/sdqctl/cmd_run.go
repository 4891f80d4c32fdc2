package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sdqctl/sdqctl/internal/config"
	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/pkg/engine"
	"github.com/sdqctl/sdqctl/pkg/plugin"
	"github.com/sdqctl/sdqctl/pkg/render"
	"github.com/sdqctl/sdqctl/pkg/verify"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// cmdRun executes exactly one cycle: a thin wrapper over `iterate -n 1`
// (spec §6).
func cmdRun(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl run <file>")
	}
	return cmdIterate(append([]string{args[0], "-n", "1"}, args[1:]...))
}

type iterateFlags struct {
	file               string
	cycles             int
	maxCycles          int
	sessionName        string
	adapterName        string
	model              string
	prologuePaths      []string
	mode               string
	forceCompact       bool
	compactionMin      float64
	compactionThresh   float64
	compactionMax      float64
	noInfiniteSessions bool
	allowShell         bool
	jsonOut            bool
	fromJSONStdin      bool
	validation         string
}

func parseIterateFlags(args []string) (iterateFlags, error) {
	f := iterateFlags{maxCycles: wf.UnboundedCycles, cycles: -1}
	if len(args) < 1 {
		return f, fmt.Errorf("usage: sdqctl iterate <file> [flags]")
	}
	f.file = args[0]

	rest := applyVerbosity(args[1:])
	for i := 0; i < len(rest); i++ {
		a := rest[i]
		next := func() (string, error) {
			if i+1 >= len(rest) {
				return "", fmt.Errorf("flag %s requires a value", a)
			}
			i++
			return rest[i], nil
		}
		switch a {
		case "-n":
			v, err := next()
			if err != nil {
				return f, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, fmt.Errorf("invalid -n: %w", err)
			}
			f.cycles = n
		case "--max-cycles":
			v, err := next()
			if err != nil {
				return f, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, fmt.Errorf("invalid --max-cycles: %w", err)
			}
			f.maxCycles = n
		case "--session-name":
			v, err := next()
			if err != nil {
				return f, err
			}
			f.sessionName = v
		case "--adapter":
			v, err := next()
			if err != nil {
				return f, err
			}
			f.adapterName = v
		case "--model":
			v, err := next()
			if err != nil {
				return f, err
			}
			f.model = v
		case "--prologue":
			v, err := next()
			if err != nil {
				return f, err
			}
			f.prologuePaths = append(f.prologuePaths, v)
		case "--mode":
			v, err := next()
			if err != nil {
				return f, err
			}
			f.mode = v
		case "--compact":
			f.forceCompact = true
		case "--compaction-min":
			v, err := next()
			if err != nil {
				return f, err
			}
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return f, fmt.Errorf("invalid --compaction-min: %w", err)
			}
			f.compactionMin = n
		case "--compaction-threshold":
			v, err := next()
			if err != nil {
				return f, err
			}
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return f, fmt.Errorf("invalid --compaction-threshold: %w", err)
			}
			f.compactionThresh = n
		case "--compaction-max":
			v, err := next()
			if err != nil {
				return f, err
			}
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return f, fmt.Errorf("invalid --compaction-max: %w", err)
			}
			f.compactionMax = n
		case "--no-infinite-sessions":
			f.noInfiniteSessions = true
		case "--allow-shell":
			f.allowShell = true
		case "--json":
			f.jsonOut = true
		case "--from-json":
			v, err := next()
			if err != nil {
				return f, err
			}
			if v != "-" {
				return f, fmt.Errorf("--from-json only supports reading from stdin (\"-\")")
			}
			f.fromJSONStdin = true
		case "--strict":
			f.validation = string(wf.ValidationStrict)
		case "--lenient":
			f.validation = string(wf.ValidationLenient)
		default:
			return f, fmt.Errorf("unknown flag %q", a)
		}
	}
	return f, nil
}

// cmdIterate runs the full outer cycle loop for one workflow file
// (spec §6 `iterate`).
func cmdIterate(args []string) error {
	flags, err := parseIterateFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w, diags, err := parseWorkflowFile(flags.file)
	if err != nil {
		return err
	}
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Error())
	}
	if w == nil {
		return errkind.New(errkind.Parse, "workflow failed to parse", nil).WithLocation(flags.file, 0, 0)
	}

	applyIterateOverrides(w, flags)
	resolveModelFlag(cfg, w, flags.model)

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	for _, p := range flags.prologuePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read --prologue %s: %w", p, err)
		}
		prologueStep := wf.Step{Kind: wf.KindPrompt, Prompt: &wf.PromptStep{
			Text: "[PROLOGUE]\n" + string(data),
		}}
		w.Steps = append([]wf.Step{prologueStep}, w.Steps...)
	}

	if flags.fromJSONStdin {
		if err := checkFromJSONStdin(w); err != nil {
			return err
		}
	}

	ctx, wasInterrupted, stop := interruptContext(context.Background())
	defer stop()

	a, err := buildAdapter(ctx, cfg, flags.adapterName)
	if err != nil {
		return err
	}

	pluginRegistry, err := loadPluginRegistry(cfg, workspace)
	if err != nil {
		return err
	}
	defer pluginRegistry.Close()

	eng := engine.New(w, workspace, cfg.Session.Dir, a, verify.NewRegistry(), pluginRegistry, workspaceRoots(workspace))

	if flags.forceCompact {
		w.Steps = append([]wf.Step{{Kind: wf.KindCompact, Compact: &wf.CompactStep{Preserve: w.Header.CompactPreserve}}}, w.Steps...)
	}

	doc, err := eng.Run(ctx)

	if err != nil && wasInterrupted() {
		err = errkind.New(errkind.Cancelled, "interrupted by signal", err)
	}

	if flags.jsonOut && doc != nil {
		data, merr := render.Marshal(doc)
		if merr == nil {
			fmt.Println(string(data))
		}
	}

	return err
}

// checkFromJSONStdin reads a previously rendered Document from stdin
// (spec §6 `--from-json -`) and verifies it still describes the
// workflow being iterated: a stale or foreign trace (workflow_hash
// mismatch, or a schema_version this build can't read) fails fast
// rather than silently iterating against the wrong plan.
func checkFromJSONStdin(w *wf.Workflow) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read --from-json stdin: %w", err)
	}
	doc, err := render.Parse(data)
	if err != nil {
		return fmt.Errorf("parse --from-json document: %w", err)
	}
	if doc.WorkflowHash != w.Hash() {
		return errkind.New(errkind.Validation, "--from-json document does not match the workflow being iterated", nil)
	}
	return nil
}

// applyIterateOverrides layers CLI flags onto the parsed header,
// matching spec §4.2/§4.4's "CLI > directive > default" priority.
func applyIterateOverrides(w *wf.Workflow, f iterateFlags) {
	if f.cycles >= 0 {
		w.Header.MaxCycles = f.cycles
	} else if f.maxCycles != wf.UnboundedCycles {
		w.Header.MaxCycles = f.maxCycles
	}
	if f.sessionName != "" {
		w.Header.SessionName = f.sessionName
	}
	if f.mode != "" {
		w.Header.Mode = wf.Mode(f.mode)
	}
	if f.compactionMin > 0 {
		w.Header.Compaction.Min = f.compactionMin
	}
	if f.compactionThresh > 0 {
		w.Header.Compaction.Background = f.compactionThresh
	}
	if f.compactionMax > 0 {
		w.Header.Compaction.Max = f.compactionMax
	}
	if f.noInfiniteSessions {
		w.Header.InfiniteSessions = false
	}
	if f.allowShell {
		for i := range w.Steps {
			if w.Steps[i].Run != nil {
				w.Steps[i].Run.AllowShell = true
			}
		}
	}
	if f.validation != "" {
		w.Header.ValidationMode = wf.ValidationMode(f.validation)
	}
}

// loadPluginRegistry builds the plugin registry from the workspace's
// manifest (spec §4.8/§6 <workspace>/.sdqctl/directives.yaml). A
// missing manifest is not an error: plugin.NewRegistry(nil) yields a
// registry where every custom-directive dispatch fails with "no
// handler registered", the correct outcome for a workspace with no
// plugins configured.
func loadPluginRegistry(cfg *config.Config, workspace string) (*plugin.Registry, error) {
	path := cfg.Plugin.ManifestPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	m, _, err := plugin.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return plugin.NewRegistry(m)
}
