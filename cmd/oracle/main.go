// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the Oracle CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/oracle/internal/app"
	"github.com/jllopis/oracle/pkg/config"
	"github.com/jllopis/oracle/pkg/runtime"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	ConfigPath string
	Profile    string
	Set        []string
	JSON       bool
}

func (g globalFlags) configArgs() []string {
	var args []string
	if g.ConfigPath != "" {
		args = append(args, "--config", g.ConfigPath)
	}
	if g.Profile != "" {
		args = append(args, "--profile", g.Profile)
	}
	for _, kv := range g.Set {
		args = append(args, "--set", kv)
	}
	return args
}

func (g globalFlags) load() (*config.Config, error) {
	cfg, err := config.LoadWithCLI(g.configArgs())
	if err != nil {
		return nil, wrapConfigError(err, g.ConfigPath)
	}
	return cfg, nil
}

// openApp loads the configuration and wires a full instance.
func (g globalFlags) openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, wrapStartupError(err)
	}
	return a, nil
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "oracle",
		Short: "A local assistant that acts on your computer",
		Long: `Oracle talks to a local language model and carries out what you ask:
files and folders, web pages, images, screen reading and self-written skills.
Actions that cannot be undone wait for "confirm <id>".

Run without a command to start a chat.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags, in, out)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to the YAML configuration file")
	pf.StringVar(&flags.Profile, "profile", "", "configuration profile overlay (config.<profile>.yaml)")
	pf.StringArrayVar(&flags.Set, "set", nil, "override a configuration key, key=value (repeatable)")
	pf.BoolVar(&flags.JSON, "json", false, "print errors as JSON")

	root.AddCommand(
		newChatCmd(flags, in, out),
		newAskCmd(flags, out),
		newMemoryCmd(flags, out),
		newPersonaCmd(flags, out),
		newSavepointCmd(flags, out),
		newOverrideCmd(flags, out),
		newMCPCmd(flags),
	)
	root.AddCommand(newApprovalCmds(flags, out)...)
	return root
}

func main() {
	ctx, cancel := runtime.SignalContext(context.Background())
	defer cancel()

	root := newRootCmd(os.Stdin, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		jsonOut, _ := root.PersistentFlags().GetBool("json")
		asCLIError(err).PrintError(os.Stderr, jsonOut)
		cancel()
		os.Exit(1)
	}
}

func say(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
