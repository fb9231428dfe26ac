// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/jllopis/oracle/internal/app"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/mcp"
	"github.com/jllopis/oracle/pkg/persona"
	"github.com/jllopis/oracle/pkg/savepoint"
	"github.com/spf13/cobra"
)

func newMemoryCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect what Oracle remembers",
	}
	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Print past conversations, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.openApp(cmd.Context(), app.WithoutMCPServers())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			entries, err := a.Memory.History(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			if flags.JSON {
				return json.NewEncoder(out).Encode(entries)
			}
			if len(entries) == 0 {
				say(out, "No conversations yet.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "[%s]\n  you:    %s\n  oracle: %s\n",
					humanize.Time(e.Timestamp), e.UserInput, e.AgentResponse)
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 0, "show only the last N conversations")
	cmd.AddCommand(history)
	return cmd
}

func newPersonaCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage Oracle's character traits",
	}
	install := &cobra.Command{
		Use:   "install <trait>",
		Short: "Add a trait that shapes every reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPersona(flags)
			if err != nil {
				return err
			}
			trait := strings.Join(args, " ")
			added, err := p.Install(trait)
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(out, "Already installed: %s\n", trait)
				return nil
			}
			fmt.Fprintf(out, "Installed: %s\n", trait)
			return nil
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List installed traits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadPersona(flags)
			if err != nil {
				return err
			}
			traits := p.Traits()
			if len(traits) == 0 {
				say(out, "No traits installed.")
				return nil
			}
			for i, t := range traits {
				fmt.Fprintf(out, "%d. %s\n", i+1, t)
			}
			return nil
		},
	}
	cmd.AddCommand(install, list)
	return cmd
}

func loadPersona(flags *globalFlags) (*persona.State, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	return persona.Load(filepath.Join(cfg.StateDir, app.PersonaDir))
}

func newSavepointCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "savepoint",
		Short: "Pack memory, persona, skills and logs into a zip under backups/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if list {
				paths, err := savepoint.List(cfg.StateDir)
				if err != nil {
					return err
				}
				for _, p := range paths {
					say(out, p)
				}
				return nil
			}
			opts := savepoint.Options{}
			if flags.ConfigPath != "" {
				opts.Extra = []string{flags.ConfigPath}
			}
			sp, err := savepoint.Create(cmd.Context(), cfg.StateDir, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Save point written to %s\n", sp)
			if len(sp.Skipped) > 0 {
				fmt.Fprintf(out, "Not found, skipped: %s\n", strings.Join(sp.Skipped, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list existing save points instead of creating one")
	return cmd
}

func newOverrideCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:       "override <on|off|status>",
		Short:     "Pause or resume the agent with the administrator PIN",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			o := governance.NewOverride(filepath.Join(cfg.StateDir, app.OverrideFile), cfg.Governance.OverridePIN)
			switch args[0] {
			case "on":
				if err := o.Engage(pin); err != nil {
					return err
				}
				say(out, "Override engaged. Oracle will not act until it is released.")
			case "off":
				if err := o.Release(pin); err != nil {
					return err
				}
				say(out, "Override released.")
			case "status":
				if o.Active() {
					say(out, "Override is engaged.")
				} else {
					say(out, "Override is off.")
				}
			default:
				return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown override action %q, use on, off or status", args[0]), nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "administrator PIN (governance.override_pin)")
	return cmd
}

func newMCPCmd(flags *globalFlags) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the toolbox to MCP clients over stdio",
		Long: `Serve every registered directive as an MCP tool on stdin/stdout.
Irreversible tools answer with an approval id and wait for you: run
"oracle approve <id>" or "oracle reject <id>". MCP clients cannot confirm
their own actions. While the admin override is engaged every call is refused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := flags.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if list {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, name := range a.Tools.Names() {
					spec, _ := a.Tools.Spec(name)
					fmt.Fprintf(tw, "%s\t%s\n", spec.Usage, spec.Description)
				}
				return tw.Flush()
			}
			bridge := mcp.NewBridge(a.Agent.Name(), app.Version, a.Tools,
				mcp.WithBridgeLogger(a.Logger), mcp.WithOverride(a.Override))
			if a.Config.Governance.ApprovalStore == "memory" {
				a.Logger.Warn("mcp.approvals.ephemeral", "hint", "approve and reject need governance.approval_store=sqlite to see actions staged here")
			}
			a.Logger.Info("mcp.serve", "directives", len(a.Tools.Names()))
			return bridge.ServeStdio(ctx)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the tools that would be served and exit")
	return cmd
}
