package verify

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// CoverageImage is the sandbox image `VERIFY coverage` runs `go test
// -cover` inside. It must have the Go toolchain installed; callers
// that need a pinned version should build their own image and set
// this before invoking the verifier (spec §4.6 "coverage runs in an
// isolated sandbox, never the host").
var CoverageImage = "golang:1.24"

var coverageLine = regexp.MustCompile(`coverage:\s*([0-9.]+)%\s*of statements`)

// Coverage implements `VERIFY coverage [threshold] [pkg]` (spec §4.6):
// runs `go test -cover` for the workspace inside an ephemeral
// container rather than on the host, the same sandboxing discipline
// the teacher applies to its Claude test runner (tests/common/containers.go),
// applied here to an untrusted assistant-modified workspace rather than
// to a scripted test harness. threshold defaults to 0 (any coverage
// passes); pkg defaults to "./...".
func Coverage(ctx context.Context, workspace string, args []string) (Result, error) {
	threshold := 0.0
	pkg := "./..."
	if len(args) > 0 && args[0] != "" {
		t, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return Result{}, fmt.Errorf("verify: coverage: invalid threshold %q: %w", args[0], err)
		}
		threshold = t
	}
	if len(args) > 1 && args[1] != "" {
		pkg = args[1]
	}

	req := testcontainers.ContainerRequest{
		Image:      CoverageImage,
		Cmd:        []string{"tail", "-f", "/dev/null"},
		WaitingFor: wait.ForExec([]string{"echo", "ready"}).WithStartupTimeout(60 * time.Second),
		Mounts: testcontainers.ContainerMounts{
			{
				Source: testcontainers.GenericBindMountSource{HostPath: workspace},
				Target: "/workspace",
			},
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("verify: coverage: start sandbox: %w", err)
	}
	defer container.Terminate(ctx)

	script := fmt.Sprintf("cd /workspace && go test -cover %s 2>&1", pkg)
	exitCode, reader, err := container.Exec(ctx, []string{"bash", "-c", script})
	if err != nil {
		return Result{}, fmt.Errorf("verify: coverage: exec: %w", err)
	}
	out, _ := io.ReadAll(reader)
	output := string(out)

	var errs []string
	if exitCode != 0 {
		errs = append(errs, fmt.Sprintf("go test exited %d", exitCode))
	}

	var lowest float64 = -1
	for _, line := range strings.Split(output, "\n") {
		m := coverageLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if lowest < 0 || pct < lowest {
			lowest = pct
		}
		if pct < threshold {
			errs = append(errs, fmt.Sprintf("%s: %.1f%% below threshold %.1f%%", strings.TrimSpace(line), pct, threshold))
		}
	}
	if lowest < 0 {
		errs = append(errs, "no coverage output found")
	}

	return Result{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: nil,
		Output:   output,
	}, nil
}
