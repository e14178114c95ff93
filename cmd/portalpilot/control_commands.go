package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"portalpilot/internal/ipc"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	control := func(use, short, action, done string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runControl(cmd, ctx, action, false, done)
			},
		}
	}

	var reject bool
	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Answer the pending login, banner, or submit confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			done := "Confirmed"
			if reject {
				done = "Declined"
			}
			return runControl(cmd, ctx, "confirm", !reject, done)
		},
	}
	confirmCmd.Flags().BoolVar(&reject, "reject", false, "Decline instead of approving")

	return []*cobra.Command{
		control("start", "Begin an automation run", "start", "Automation started"),
		control("stop", "End the current run; the item in progress returns to pending", "stop", "Automation stopped"),
		control("pause", "Pause at the next step boundary", "pause", "Automation paused"),
		control("resume", "Resume a paused run", "resume", "Automation resumed"),
		control("skip", "Skip the item in progress", "skip", "Skip requested"),
		confirmCmd,
	}
}

func runControl(cmd *cobra.Command, ctx *commandContext, action string, approved bool, done string) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.Control(action, approved)
		if err != nil {
			return err
		}
		if !resp.OK {
			return errors.New(resp.Message)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, done)
		fmt.Fprintf(out, "Engine: %s\n", engineSummary(resp.Engine))
		return nil
	})
}
