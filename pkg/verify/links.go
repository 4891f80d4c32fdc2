package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/sdqctl/sdqctl/pkg/refs"
)

// linkToken matches http(s) URLs and markdown-style local link targets
// inside scanned text.
var linkToken = regexp.MustCompile(`https?://[^\s)'"<>]+|\]\(([^)]+)\)`)

// Links implements `VERIFY links [glob]` (spec §4.6): http(s) URLs are
// confirmed reachable via a real headless-browser navigation rather
// than a bare HTTP HEAD (promoting the teacher's test-only chromedp
// dependency to production use, per SPEC_FULL.md's DOMAIN STACK), and
// local link targets are checked for existence relative to the
// containing file.
func Links(ctx context.Context, workspace string, args []string) (Result, error) {
	pattern := "**/*.md"
	if len(args) > 0 && args[0] != "" {
		pattern = args[0]
	}

	paths, err := refs.WalkGlob(workspace, pattern)
	if err != nil {
		return Result{}, fmt.Errorf("verify: links: walk %q: %w", pattern, err)
	}

	type link struct {
		rel  string
		file string
		url  string
		local bool
	}
	var links []link

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(workspace, path)
		for _, m := range linkToken.FindAllStringSubmatch(string(data), -1) {
			target := m[0]
			local := false
			if m[1] != "" {
				target = m[1]
				local = !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://")
			}
			links = append(links, link{rel: rel, file: path, url: target, local: local})
		}
	}

	var errs, warns []string
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	var browserCtx context.Context
	var browserCancel context.CancelFunc
	haveBrowser := false
	for _, lk := range links {
		if lk.local {
			target := lk.url
			if idx := strings.IndexAny(target, "#?"); idx >= 0 {
				target = target[:idx]
			}
			if target == "" {
				continue
			}
			full := filepath.Join(filepath.Dir(lk.file), target)
			if _, err := os.Stat(full); err != nil {
				errs = append(errs, fmt.Sprintf("%s: local link %q: %v", lk.rel, lk.url, err))
			}
			continue
		}

		if !haveBrowser {
			opts := append(chromedp.DefaultExecAllocatorOptions[:],
				chromedp.Flag("headless", true),
				chromedp.Flag("disable-gpu", true),
				chromedp.Flag("no-sandbox", true),
			)
			allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
			browserCtx, browserCancel = chromedp.NewContext(allocCtx)
			haveBrowser = true
		}

		navCtx, navCancel := context.WithTimeout(browserCtx, 15*time.Second)
		if err := chromedp.Run(navCtx, chromedp.Navigate(lk.url)); err != nil {
			errs = append(errs, fmt.Sprintf("%s: link %q unreachable: %v", lk.rel, lk.url, err))
		}
		navCancel()
	}
	if haveBrowser {
		browserCancel()
		allocCancel()
	}

	return Result{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
		Output:   fmt.Sprintf("checked %d link(s) across %d file(s)", len(links), len(paths)),
	}, nil
}
