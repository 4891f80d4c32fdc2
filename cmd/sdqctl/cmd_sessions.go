package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sdqctl/sdqctl/pkg/engine"
	"github.com/sdqctl/sdqctl/pkg/render"
	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/template"
	"github.com/sdqctl/sdqctl/pkg/verify"
)

// cmdSessions dispatches the `sessions {list,show,delete,cleanup,resume}`
// subcommands (spec §6).
func cmdSessions(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl sessions {list,show,delete,cleanup,resume} [args]")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return cmdSessionsList(rest)
	case "show":
		return cmdSessionsShow(rest)
	case "delete":
		return cmdSessionsDelete(rest)
	case "cleanup":
		return cmdSessionsCleanup(rest)
	case "resume":
		return cmdSessionsResume(rest)
	default:
		return fmt.Errorf("unknown sessions subcommand %q", sub)
	}
}

// sessionEntries lists the session-id directories under dir, sorted.
func sessionEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session dir %s: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// cmdSessionsList prints every known session's id, checkpoint status
// (if suspended), and last-modified time.
func cmdSessionsList(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ids, err := sessionEntries(cfg.Session.Dir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, id := range ids {
		dir := filepath.Join(cfg.Session.Dir, id)
		status := "completed"
		if cp, ok, _ := session.ReadCheckpoint(dir); ok {
			status = string(cp.Status)
		}
		modified := "-"
		if m, ok, _ := session.ReadMetrics(dir); ok && !m.ModifiedAt.IsZero() {
			modified = m.ModifiedAt.Format(time.RFC3339)
		}
		fmt.Printf("%-36s %-12s %s\n", id, status, modified)
	}
	return nil
}

// cmdSessionsShow prints one session's checkpoint, metrics, and trace.
func cmdSessionsShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl sessions show <id>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := filepath.Join(cfg.Session.Dir, args[0])

	if cp, ok, err := session.ReadCheckpoint(dir); err != nil {
		return err
	} else if ok {
		fmt.Printf("checkpoint: session_id=%s cycle=%d step_index=%d status=%s timestamp=%s\n",
			cp.SessionID, cp.Cycle, cp.StepIndex, cp.Status, cp.Timestamp.Format(time.RFC3339))
		if cp.ConsultationTopic != "" {
			fmt.Printf("  consultation_topic: %s\n", cp.ConsultationTopic)
		}
		if cp.Message != "" {
			fmt.Printf("  message: %s\n", cp.Message)
		}
	} else {
		fmt.Println("checkpoint: none (run completed normally or has not started)")
	}

	if m, ok, err := session.ReadMetrics(dir); err != nil {
		return err
	} else if ok {
		fmt.Printf("metrics: turns=%d tool_calls=%d tokens_in=%d tokens_out=%d compactions=%d started_at=%s modified_at=%s\n",
			m.Turns, m.ToolCalls, m.TokensIn, m.TokensOut, len(m.Compactions),
			m.StartedAt.Format(time.RFC3339), m.ModifiedAt.Format(time.RFC3339))
	}

	if doc, ok, err := render.ReadTrace(dir); err != nil {
		return err
	} else if ok {
		data, merr := render.Marshal(doc)
		if merr == nil {
			fmt.Println("trace:")
			fmt.Println(string(data))
		}
	}
	return nil
}

// cmdSessionsDelete removes a session's entire state directory.
func cmdSessionsDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl sessions delete <id>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := filepath.Join(cfg.Session.Dir, args[0])
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("session %q: %w", args[0], err)
	}
	return os.RemoveAll(dir)
}

// cmdSessionsCleanup deletes session directories whose metrics (or, if
// absent, checkpoint) were last modified more than --older-than ago.
func cmdSessionsCleanup(args []string) error {
	var olderThan time.Duration
	dryRun := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--older-than":
			if i+1 >= len(args) {
				return fmt.Errorf("--older-than requires a value")
			}
			i++
			d, err := parseDuration(args[i])
			if err != nil {
				return fmt.Errorf("invalid --older-than: %w", err)
			}
			olderThan = d
		case "--dry-run":
			dryRun = true
		default:
			return fmt.Errorf("unknown flag %q", args[i])
		}
	}
	if olderThan <= 0 {
		return fmt.Errorf("usage: sdqctl sessions cleanup --older-than DURATION [--dry-run]")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ids, err := sessionEntries(cfg.Session.Dir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-olderThan)
	for _, id := range ids {
		dir := filepath.Join(cfg.Session.Dir, id)
		modified := sessionLastModified(dir)
		if modified.IsZero() || modified.After(cutoff) {
			continue
		}
		if dryRun {
			fmt.Printf("would delete %s (last modified %s)\n", id, modified.Format(time.RFC3339))
			continue
		}
		fmt.Printf("deleting %s (last modified %s)\n", id, modified.Format(time.RFC3339))
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}

func sessionLastModified(dir string) time.Time {
	if m, ok, _ := session.ReadMetrics(dir); ok && !m.ModifiedAt.IsZero() {
		return m.ModifiedAt
	}
	if cp, ok, _ := session.ReadCheckpoint(dir); ok {
		return cp.Timestamp
	}
	return time.Time{}
}

// parseDuration extends time.ParseDuration with day/week suffixes,
// which operators reasonably expect for "--older-than 7d".
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "w") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "w"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// cmdSessionsResume reopens a suspended session by id and continues
// its workflow from the checkpointed step (spec §6 `sessions resume
// <id> [--prompt TEXT]`). The workflow file itself is not passed on
// the command line; the engine recovers it from the path metrics.json
// recorded at session creation (see pkg/session.Metrics.WorkflowPath).
func cmdSessionsResume(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl sessions resume <id> [--prompt TEXT]")
	}
	id := args[0]
	var prompt string
	for i := 1; i < len(args); i++ {
		if args[i] == "--prompt" && i+1 < len(args) {
			i++
			prompt = args[i]
			continue
		}
		return fmt.Errorf("unknown flag %q", args[i])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := filepath.Join(cfg.Session.Dir, id)

	m, ok, err := session.ReadMetrics(dir)
	if err != nil {
		return err
	}
	if !ok || m.WorkflowPath == "" {
		return fmt.Errorf("session %q: no recorded workflow path to resume from", id)
	}

	w, diags, err := parseWorkflowFile(m.WorkflowPath)
	if err != nil {
		return err
	}
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Error())
	}
	if w == nil {
		return fmt.Errorf("%s: failed to parse", m.WorkflowPath)
	}

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	ctx, wasInterrupted, stop := interruptContext(context.Background())
	defer stop()

	a, err := buildAdapter(ctx, cfg, "")
	if err != nil {
		return err
	}

	pluginRegistry, err := loadPluginRegistry(cfg, workspace)
	if err != nil {
		return err
	}
	defer pluginRegistry.Close()

	var vars template.Vars
	if prompt != "" {
		vars = template.Vars{"RESUME_INPUT": prompt}
	}

	eng := engine.New(w, workspace, cfg.Session.Dir, a, verify.NewRegistry(), pluginRegistry, workspaceRoots(workspace), engine.WithVars(vars))

	_, err = eng.Resume(ctx, dir)
	if err != nil && wasInterrupted() {
		err = fmt.Errorf("interrupted by signal: %w", err)
	}
	return err
}
