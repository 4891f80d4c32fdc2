package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/monitorhttp"
)

// capabilityByName maps the display names cmdStatus prints back onto
// the adapter.Capability constants, so the "capabilities:" listing and
// adapter.Capabilities.Supports share one name list instead of two.
func capabilityByName(name string) adapter.Capability {
	switch name {
	case "resume_session":
		return adapter.CapResumeSession
	case "list_sessions":
		return adapter.CapListSessions
	case "delete_session":
		return adapter.CapDeleteSession
	case "compaction":
		return adapter.CapCompaction
	case "background_compaction":
		return adapter.CapBackgroundCompact
	case "cancel_in_flight":
		return adapter.CapCancelInFlight
	case "auth_status":
		return adapter.CapAuthStatus
	default:
		return adapter.Capability(name)
	}
}

type statusFlags struct {
	adapterName string
	models      bool
	auth        bool
	all         bool
	serve       bool
	host        string
	port        int
}

func parseStatusFlags(args []string) (statusFlags, error) {
	f := statusFlags{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		next := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("flag %s requires a value", a)
			}
			i++
			return args[i], nil
		}
		switch a {
		case "--adapter":
			v, err := next()
			if err != nil {
				return f, err
			}
			f.adapterName = v
		case "--models":
			f.models = true
		case "--auth":
			f.auth = true
		case "--all":
			f.all = true
		case "--serve":
			f.serve = true
		case "--host":
			v, err := next()
			if err != nil {
				return f, err
			}
			f.host = v
		case "--port":
			v, err := next()
			if err != nil {
				return f, err
			}
			if _, err := fmt.Sscanf(v, "%d", &f.port); err != nil {
				return f, fmt.Errorf("invalid --port: %w", err)
			}
		default:
			return f, fmt.Errorf("unknown flag %q", a)
		}
	}
	return f, nil
}

// cmdStatus reports adapter/model/auth status (spec §6 `status`), and
// optionally serves the read-only monitorhttp surface over the
// session directory's trace documents.
func cmdStatus(args []string) error {
	flags, err := parseStatusFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildAdapter(ctx, cfg, flags.adapterName)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return errkind.New(errkind.AdapterUnavailable, "start adapter", err)
	}
	defer a.Stop(ctx)

	st, err := a.GetStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("adapter: %s running=%v %s\n", st.Name, st.Running, st.Detail)

	if flags.auth || flags.all {
		auth, err := a.GetAuthStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("auth: authenticated=%v identity=%q %s\n", auth.Authenticated, auth.Identity, auth.Detail)
	}

	if flags.models || flags.all {
		models, err := a.ListModels(ctx)
		if err != nil {
			return err
		}
		fmt.Println("models:")
		for _, m := range models {
			fmt.Printf("  %-24s vendor=%-10s tier=%-10s speed=%-10s context=%d\n", m.ID, m.Vendor, m.Tier, m.Speed, m.ContextMax)
		}
	}

	if flags.all {
		caps := a.Capabilities()
		fmt.Println("capabilities:")
		for _, c := range []string{"resume_session", "list_sessions", "delete_session", "compaction", "background_compaction", "cancel_in_flight", "auth_status"} {
			fmt.Printf("  %-24s %v\n", c, caps.Supports(capabilityByName(c)))
		}
	}

	if flags.serve {
		host := flags.host
		if host == "" {
			host = cfg.Monitor.Host
		}
		port := flags.port
		if port == 0 {
			port = cfg.Monitor.Port
		}
		store := monitorhttp.DirTraceStore{SessionRoot: cfg.Session.Dir}
		srv := monitorhttp.NewServer(store)
		addr := fmt.Sprintf("%s:%d", host, port)
		fmt.Fprintf(os.Stderr, "serving status surface on %s\n", addr)
		serveCtx, _, stop := interruptContext(context.Background())
		defer stop()
		return srv.Serve(serveCtx, addr)
	}

	return nil
}
