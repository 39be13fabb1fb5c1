// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// lucid is the host operator's command for a running lucid-session:
// it lists sessions, answers approval prompts, closes sessions, and
// reloads the policy, all over the control socket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/lucid-foundation/lucid/lib/config"
	"github.com/lucid-foundation/lucid/lib/control"
	"github.com/lucid-foundation/lucid/lib/process"
	"github.com/lucid-foundation/lucid/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

const usage = `Usage: lucid [flags] <command> [arguments]

Commands:
  status                      list live sessions
  pending                     list approval requests waiting for an answer
  approve <session> <request> allow a pending request
  deny <session> <request>    refuse a pending request
  close <session>             end a session normally
  reload                      re-read the policy rule set

Flags:
`

type cli struct {
	client *control.Client
	out    io.Writer
	json   bool
}

func run(args []string, out io.Writer) error {
	var (
		socketPath string
		configPath string
		asJSON     bool
	)
	flagSet := pflag.NewFlagSet("lucid", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&socketPath, "socket", "", "control socket (default: paths.control from the config)")
	flagSet.StringVar(&configPath, "config", "", "path to lucid.yaml (default: $LUCID_CONFIG)")
	flagSet.BoolVar(&asJSON, "json", false, "print results as JSON")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}

	if len(args) > 0 && args[0] == "--version" {
		version.Fprint(out, "lucid")
		return nil
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return fmt.Errorf("no command given")
	}

	if socketPath == "" {
		path, err := socketFromConfig(configPath)
		if err != nil {
			return err
		}
		socketPath = path
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{client: control.NewClient(socketPath), out: out, json: asJSON}
	command, arguments := rest[0], rest[1:]
	switch command {
	case "status":
		return c.status(ctx, arguments)
	case "pending":
		return c.pending(ctx, arguments)
	case "approve":
		return c.resolve(ctx, arguments, true)
	case "deny":
		return c.resolve(ctx, arguments, false)
	case "close":
		return c.close(ctx, arguments)
	case "reload":
		return c.reload(ctx, arguments)
	default:
		return fmt.Errorf("unknown command %q (see lucid --help)", command)
	}
}

func socketFromConfig(path string) (string, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return "", fmt.Errorf("locating the control socket (or pass --socket): %w", err)
	}
	return cfg.Paths.Control, nil
}

func expectArgs(arguments []string, names ...string) error {
	if len(arguments) != len(names) {
		return fmt.Errorf("expected arguments: %s", strings.Join(names, " "))
	}
	return nil
}

func (c *cli) print(value any, text func(w *tabwriter.Writer)) error {
	if c.json {
		encoder := json.NewEncoder(c.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	text(w)
	return w.Flush()
}

func (c *cli) status(ctx context.Context, arguments []string) error {
	if err := expectArgs(arguments); err != nil {
		return err
	}
	var status control.Status
	if err := c.client.Call(ctx, control.ActionStatus, nil, &status); err != nil {
		return err
	}
	return c.print(status, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "owner %s, listening on %s, %d rules from %s\n", status.Owner, status.Listen, status.Rules, orNone(status.Policy))
		fmt.Fprintf(w, "audit: %d recorded, %d dropped, %d failed\n\n", status.Audit.Recorded, status.Audit.Dropped, status.Audit.Failed)
		fmt.Fprintln(w, "SESSION\tSTATE\tAGE\tCHUNKS\tDENIALS\tPENDING\tPEER")
		for _, snapshot := range status.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				snapshot.Session, snapshot.State,
				time.Since(snapshot.CreatedAt).Round(time.Second),
				snapshot.Chunks, snapshot.Denials, snapshot.PendingApprovals,
				shortKey(snapshot.PeerKey))
		}
	})
}

func (c *cli) pending(ctx context.Context, arguments []string) error {
	if err := expectArgs(arguments); err != nil {
		return err
	}
	var pending control.Pending
	if err := c.client.Call(ctx, control.ActionPending, nil, &pending); err != nil {
		return err
	}
	return c.print(pending, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "SESSION\tREQUEST\tPERMISSION\tRESOURCE\tRULE\tEXPIRES IN")
		for _, request := range pending.Requests {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				request.Session, request.ID, request.Permission, request.Resource, request.RuleID,
				time.Until(request.ExpiresAt).Round(time.Second))
		}
	})
}

func (c *cli) resolve(ctx context.Context, arguments []string, approved bool) error {
	if err := expectArgs(arguments, "<session>", "<request>"); err != nil {
		return err
	}
	approver := "operator"
	if current, err := user.Current(); err == nil {
		approver = current.Username
	}
	err := c.client.Call(ctx, control.ActionResolve, map[string]any{
		"session":  arguments[0],
		"request":  arguments[1],
		"approved": approved,
		"approver": approver,
	}, nil)
	if err != nil {
		return err
	}
	verb := "denied"
	if approved {
		verb = "approved"
	}
	fmt.Fprintf(c.out, "%s %s\n", verb, arguments[1])
	return nil
}

func (c *cli) close(ctx context.Context, arguments []string) error {
	if err := expectArgs(arguments, "<session>"); err != nil {
		return err
	}
	var snapshot struct {
		State     string `cbor:"state" json:"state"`
		EndReason string `cbor:"end_reason" json:"end_reason"`
	}
	err := c.client.Call(ctx, control.ActionClose, map[string]any{"session": arguments[0]}, &snapshot)
	if err != nil {
		return err
	}
	return c.print(snapshot, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "%s %s (%s)\n", arguments[0], snapshot.State, snapshot.EndReason)
	})
}

func (c *cli) reload(ctx context.Context, arguments []string) error {
	if err := expectArgs(arguments); err != nil {
		return err
	}
	var reloaded control.Reloaded
	if err := c.client.Call(ctx, control.ActionReload, nil, &reloaded); err != nil {
		return err
	}
	return c.print(reloaded, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "loaded %d rules from %s\n", reloaded.Rules, orNone(reloaded.Policy))
	})
}

func orNone(path string) string {
	if path == "" {
		return "(none: every session is denied)"
	}
	return path
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}
