// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/jllopis/oracle/internal/app"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/toolbox"
	"github.com/spf13/cobra"
)

// newApprovalCmds returns the commands that resolve staged directives from
// outside a chat, for actions staged through "oracle mcp".
func newApprovalCmds(flags *globalFlags, out io.Writer) []*cobra.Command {
	resolve := func(approve bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := flags.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			res, err := resolveApproval(cmd.Context(), a, args[0], approve)
			if err != nil {
				return err
			}
			say(out, res.Message)
			return nil
		}
	}
	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Run an action that is waiting for your confirmation",
		Args:  cobra.ExactArgs(1),
		RunE:  resolve(true),
	}
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Drop an action that is waiting for your confirmation",
		Args:  cobra.ExactArgs(1),
		RunE:  resolve(false),
	}
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List actions waiting for your confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.openApp(cmd.Context(), app.WithoutMCPServers())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if !flags.JSON {
				printPending(cmd.Context(), a, out)
				return nil
			}
			list, err := a.Tools.Pending(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(out).Encode(list)
		},
	}
	return []*cobra.Command{approve, reject, pending}
}

func resolveApproval(ctx context.Context, a *app.App, id string, approve bool) (toolbox.Result, error) {
	if a.Override.Active() {
		return toolbox.Result{}, errors.New(errors.CodeInvalidInput, governance.PausedMessage, nil).
			WithContext("approval_id", id)
	}
	var res toolbox.Result
	if approve {
		res = a.Tools.Confirm(ctx, id)
	} else {
		res = a.Tools.Reject(ctx, id)
	}
	if !res.OK {
		return res, errors.New(errors.CodeToolFailure, res.Message, nil).WithContext("approval_id", id)
	}
	return res, nil
}
