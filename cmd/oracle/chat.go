// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jllopis/oracle/internal/app"
	"github.com/jllopis/oracle/pkg/config"
	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /look      read the screen before your next message
  /pending   list actions waiting for confirmation
  /help      show this help
  /exit      leave the chat
Reply "confirm <id>" or "cancel <id>" to answer a staged action.`

func newChatCmd(flags *globalFlags, in io.Reader, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags, in, out)
		},
	}
}

func newAskCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	var look bool
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := flags.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if look {
				if _, err := a.Look(ctx); err != nil {
					return wrapStartupError(err)
				}
			}
			reply, err := a.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			say(out, reply)
			return nil
		},
	}
	cmd.Flags().BoolVar(&look, "look", false, "read the screen first and pass it to the model")
	return cmd
}

func runChat(ctx context.Context, flags *globalFlags, in io.Reader, out io.Writer) error {
	a, err := flags.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if flags.ConfigPath != "" {
		w, err := config.WatchCLI(ctx, flags.configArgs(), config.WithWatchLogger(a.Logger))
		if err != nil {
			a.Logger.Warn("chat.config.watch.error", "error", err)
		} else {
			w.OnChange(a.Reload)
			defer w.Stop()
		}
	}
	return chatLoop(ctx, a, in, out)
}

// chatLoop reads one message per line until EOF, /exit or ctx ends.
func chatLoop(ctx context.Context, a *app.App, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "%s is listening. Type /help for commands.\n", a.Agent.Name())
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			say(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				say(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "/exit", "/quit":
			return nil
		case "/help":
			say(out, chatHelp)
			continue
		case "/look":
			c, err := a.Look(ctx)
			if err != nil {
				say(out, asCLIError(err).Message)
				continue
			}
			fmt.Fprintf(out, "Read %d characters from the screen. Ask away.\n", len(c.ExtractedText))
			continue
		case "/pending":
			printPending(ctx, a, out)
			continue
		}
		reply, err := a.Ask(ctx, line)
		if err != nil {
			say(out, asCLIError(err).Message)
			continue
		}
		say(out, reply)
	}
}

func printPending(ctx context.Context, a *app.App, out io.Writer) {
	pending, err := a.Tools.Pending(ctx)
	if err != nil {
		say(out, asCLIError(err).Message)
		return
	}
	if len(pending) == 0 {
		say(out, "Nothing is waiting for confirmation.")
		return
	}
	for _, p := range pending {
		fmt.Fprintf(out, "%s  %s(%s)  expires %s\n", p.ID, p.Directive,
			strings.Join(p.Args, ", "), p.ExpiresAt.Format(time.Kitchen))
	}
}
