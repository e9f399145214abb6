package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aliaswap/aliaswap/internal/config"
	"github.com/aliaswap/aliaswap/internal/control/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	socket  string
	timeout time.Duration
}

func (g *globalFlags) client() (*client.Client, context.Context, context.CancelFunc, error) {
	cli, err := client.New(g.socket)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create client: %w", err)
	}
	ctx := context.Background()
	cancel := func() {}
	if g.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	return cli, ctx, cancel, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "aliasctl",
		Short:         "control a running aliaswapd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.socket, "socket", "", "path to aliaswap control socket")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 3*time.Second, "control request timeout")

	root.AddCommand(
		newStatusCmd(flags),
		newSimpleCmd(flags, "enable", "start the session with the current settings", "Session enabled", (*client.Client).Enable),
		newSimpleCmd(flags, "disable", "stop the session and restore the document", "Session disabled", (*client.Client).Disable),
		newSimpleCmd(flags, "reload", "trigger a live config reload", "Reload requested", (*client.Client).Reload),
		newInsertCmd(flags),
		newMoveCmd(flags),
		newRenderCmd(flags),
		newHistoryCmd(flags),
		newMetricsCmd(flags),
		newCheckCmd(),
	)
	return root
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show session state and the substitution table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := flags.client()
			if err != nil {
				return err
			}
			defer cancel()
			status, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func printStatus(w io.Writer, status client.SessionStatus) {
	fmt.Fprintf(w, "State: %s\n", status.State)
	if status.Session != "" {
		fmt.Fprintf(w, "Session: %s (since %s)\n", status.Session, status.Started.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Title: %s\n", status.Title)
	fmt.Fprintf(w, "Nodes: %d, cached: %d, highlight: %t\n", status.Nodes, status.Cached, status.Highlight)
	if len(status.Patterns) == 0 {
		return
	}
	fmt.Fprintln(w, "Patterns:")
	for _, p := range status.Patterns {
		fmt.Fprintf(w, "  %q -> %q\n", p.Old, p.New)
	}
}

func newSimpleCmd(flags *globalFlags, use, short, done string, call func(*client.Client, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := flags.client()
			if err != nil {
				return err
			}
			defer cancel()
			if err := call(cli, ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

func newInsertCmd(flags *globalFlags) *cobra.Command {
	var parent uint64
	cmd := &cobra.Command{
		Use:     "insert <html>",
		Short:   "append markup to the document",
		Args:    cobra.ExactArgs(1),
		Example: `aliasctl insert --parent 4 '<p>Jon arrives</p>'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := flags.client()
			if err != nil {
				return err
			}
			defer cancel()
			nodes, err := cli.Insert(ctx, parent, args[0])
			if err != nil {
				return err
			}
			ids := make([]string, len(nodes))
			for i, n := range nodes {
				ids[i] = fmt.Sprint(n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted node(s): %s\n", strings.Join(ids, ", "))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&parent, "parent", 0, "parent element id (default: body)")
	return cmd
}

func newMoveCmd(flags *globalFlags) *cobra.Command {
	var node, parent uint64
	cmd := &cobra.Command{
		Use:   "move",
		Short: "re-attach a node under another element",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := flags.client()
			if err != nil {
				return err
			}
			defer cancel()
			if err := cli.Move(ctx, node, parent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved node %d under %d\n", node, parent)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&node, "node", 0, "node id to move")
	cmd.Flags().Uint64Var(&parent, "parent", 0, "new parent element id")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}

func newRenderCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "print the current document as HTML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := flags.client()
			if err != nil {
				return err
			}
			defer cancel()
			out, err := cli.Render(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "list recent passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := flags.client()
			if err != nil {
				return err
			}
			defer cancel()
			history, err := cli.History(ctx)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), history)
			return nil
		},
	}
}

func printHistory(w io.Writer, history client.History) {
	if len(history.Passes) == 0 {
		fmt.Fprintln(w, "No passes recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tVISITED\tREWRITTEN\tREVERTED\tMISSES\tREPLACEMENTS\tMS")
	for _, p := range history.Passes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.2f\n",
			p.Timestamp.Format("15:04:05.000"), p.Kind, p.Visited, p.Rewritten, p.Reverted, p.Misses, p.Replacements, p.DurationMs)
	}
	tw.Flush()
}

func newMetricsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "show pass counters (requires telemetry.enabled)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := flags.client()
			if err != nil {
				return err
			}
			defer cancel()
			snap, err := cli.Metrics(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !snap.Enabled {
				fmt.Fprintln(out, "Telemetry disabled")
				return nil
			}
			fmt.Fprintf(out, "Passes: %d, rewritten: %d, reverted: %d, misses: %d, replacements: %d\n",
				snap.Totals.Passes, snap.Totals.Rewritten, snap.Totals.Reverted, snap.Totals.Misses, snap.Totals.Replacements)
			for _, k := range snap.Kinds {
				fmt.Fprintf(out, "  %s: %d pass(es), %s total\n", k.Kind, k.Passes, time.Duration(k.TotalDuration))
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runCheck(path string, stdout, stderr io.Writer) error {
	if path == "" {
		return fmt.Errorf("check requires --config <path>")
	}
	lintErrs, warnings, err := config.LintFile(path)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(stderr, "warning: %s\n", w.Error())
	}
	if len(lintErrs) == 0 {
		fmt.Fprintln(stdout, "Configuration OK")
		return nil
	}

	fmt.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return fmt.Errorf("configuration validation failed")
}
