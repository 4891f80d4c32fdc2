// Command sdqctl is a workflow orchestrator for AI coding assistants: it
// parses a declarative, line-oriented workflow file and drives an
// assistant backend through a persistent conversation session,
// supervising context usage, executing shell commands, and supporting
// human-in-the-loop pause/consult with durable checkpoints.
//
// Usage:
//
//	sdqctl run <file>                  - Execute exactly one cycle
//	sdqctl iterate <file> [flags]       - Run the full outer cycle loop
//	sdqctl validate <file> [flags]      - Parse and resolve context, report diagnostics
//	sdqctl render <file> [--json]       - Print the pre-execution structured document
//	sdqctl show <file>                  - Print the parsed workflow, human-readable
//	sdqctl sessions {list,show,delete,cleanup,resume} [args]
//	sdqctl verify <kind> [args]          - Run a single verifier against the workspace
//	sdqctl status [flags]                - Report adapter/model/auth status
//	sdqctl plugin {list,validate <path>} - Inspect the plugin manifest
package main

import (
	"fmt"
	"os"

	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/internal/logger"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = cmdRun(args)
	case "iterate":
		err = cmdIterate(args)
	case "validate":
		err = cmdValidate(args)
	case "render":
		err = cmdRender(args)
	case "show":
		err = cmdShow(args)
	case "sessions":
		err = cmdSessions(args)
	case "verify":
		err = cmdVerify(args)
	case "status":
		err = cmdStatus(args)
	case "plugin":
		err = cmdPlugin(args)
	case "version", "-v", "--version":
		fmt.Printf("sdqctl version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	logger.Stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(errkind.ExitCode(err))
	}
}

func printUsage() {
	fmt.Println(`sdqctl - workflow orchestrator for AI coding assistants

Commands:
  run <file>                     Execute exactly one cycle (iterate -n 1)
  iterate <file> [flags]         Run the full outer cycle loop
    -n N                         Cap this invocation to N cycles
    --max-cycles N               Override the workflow's MAX-CYCLES
    --session-name S             Override SESSION-NAME
    --adapter A                  Backend adapter: mock, anthropic, gemini
    --model M                    Override MODEL
    --prologue PATH              Inject PATH's contents before every cycle (repeatable)
    --mode MODE                  full | read-only | audit
    --compact                    Run a COMPACT at the start of every cycle
    --compaction-min N           Override COMPACTION-MIN
    --compaction-threshold N     Override COMPACTION-THRESHOLD
    --compaction-max N           Override COMPACTION-MAX
    --no-infinite-sessions       Disable background compaction
    --allow-shell                Allow RUN steps to use a shell
    --json                       Emit the post-execution trace as JSON on stdout
    --from-json -                Check a rendered document on stdin matches the workflow, then run it
    --strict | --lenient         Override VALIDATION-MODE
    -v | -vv | -vvv              Increase log verbosity
  validate <file> [flags]
    --strict                     Treat warnings as errors
    --allow-missing               Don't fail on missing required context
    --exclude GLOB                Exclude matching paths (repeatable)
  render <file> [--json]         Print the pre-execution structured document
  show <file>                    Print the parsed workflow, human-readable
  sessions list                  List known sessions
  sessions show <id>              Show one session's checkpoint/trace
  sessions delete <id>             Delete a session's state directory
  sessions cleanup --older-than D [--dry-run]
  sessions resume <id> [--prompt TEXT]
  verify <kind> [args]            Run one verifier kind against the workspace
  status [--adapter A] [--models] [--auth] [--all] [--serve] [--host H] [--port P]
  plugin list                     List directives declared by the manifest
  plugin validate <path>          Validate a plugin manifest file
  version                          Show version
  help                             Show this help

Environment: SDQCTL_CONFIG, SDQCTL_SESSION_DIR, SDQCTL_MODEL_DEFAULT,
SDQCTL_MODEL_ALIAS_<ID>.

Exit codes: 0 success, 1 workflow error, 2 missing context (strict),
3 rate-limited/consult-expired, 4 cancelled, 5 paused (checkpoint written).`)
}
