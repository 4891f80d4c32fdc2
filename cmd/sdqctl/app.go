package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sdqctl/sdqctl/internal/config"
	"github.com/sdqctl/sdqctl/internal/logger"
	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/parser"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// loadConfig reads the operator config (SDQCTL_CONFIG or its default
// path) and sets up the global logger from it. Every subcommand that
// touches the adapter, session directory, or plugin manifest starts
// from this.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger.SetupLogger(cfg)
	return cfg, nil
}

// applyVerbosity raises the logger level for -v/-vv/-vvv flags, which
// are parsed out of argv before reaching the rest of a subcommand's
// flag loop since they carry no value.
func applyVerbosity(args []string) []string {
	level := ""
	kept := args[:0]
	for _, a := range args {
		switch a {
		case "-v":
			level = "info"
		case "-vv":
			level = "debug"
		case "-vvv":
			level = "trace"
		default:
			kept = append(kept, a)
		}
	}
	if level != "" {
		logger.InitLogger(logger.GetLogger().WithLevelFromString(level))
	}
	return kept
}

// parseWorkflowFile reads and parses path into a *wf.Workflow.
func parseWorkflowFile(path string) (*wf.Workflow, []parser.Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parser.Parse(path, string(data), parser.Options{})
}

// buildAdapter constructs the named adapter, falling back to the
// config's configured default when name is empty.
func buildAdapter(ctx context.Context, cfg *config.Config, name string) (adapter.Adapter, error) {
	if name == "" {
		name = cfg.Adapter.Default
	}
	switch name {
	case "", "mock":
		return adapter.NewMockAdapter(), nil
	case "anthropic":
		if cfg.Adapter.AnthropicKey == "" {
			return nil, fmt.Errorf("adapter %q requires adapter.anthropic_api_key (or ANTHROPIC_API_KEY)", name)
		}
		return adapter.NewAnthropicAdapter(cfg.Adapter.AnthropicKey), nil
	case "gemini":
		if cfg.Adapter.GeminiKey == "" {
			return nil, fmt.Errorf("adapter %q requires adapter.gemini_api_key (or GOOGLE_GEMINI_API_KEY)", name)
		}
		return adapter.NewGeminiAdapter(ctx, cfg.Adapter.GeminiKey)
	default:
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
}

// workspaceRoots builds the single default workspace root pkg/refs
// resolves CONTEXT/REFCAT patterns against. sdqctl has no named-root
// configuration surface yet (spec §6 doesn't define one), so every
// workflow resolves against the current directory.
func workspaceRoots(workspace string) refs.Roots {
	return refs.Roots{"": workspace}
}

// resolveModelFlag applies the CLI > directive > config-default
// priority (spec §4.2/§4.4's precedence pattern, extended to model
// selection) and writes the result back onto the workflow's header so
// pkg/engine's own resolveModel sees the final concrete id.
func resolveModelFlag(cfg *config.Config, w *wf.Workflow, cliModel string) {
	candidate := cliModel
	if candidate == "" {
		candidate = w.Header.Model
	}
	if candidate == "" {
		candidate = cfg.Models.Default
	}
	if candidate != "" {
		w.Header.Model = cfg.ResolveModel(candidate)
	}
}

// interruptContext returns a context cancelled on SIGINT/SIGTERM, and a
// function reporting whether cancellation came from a signal (as
// opposed to the operation completing or the ambient context expiring)
// so callers can report errkind.Cancelled accordingly.
func interruptContext(parent context.Context) (context.Context, func() bool, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := false
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			interrupted = true
			cancel()
		case <-done:
		}
	}()
	stop := func() {
		close(done)
		signal.Stop(sigCh)
		cancel()
	}
	return ctx, func() bool { return interrupted }, stop
}
