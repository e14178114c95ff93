package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"portalpilot/internal/workflow"
)

func newStepsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List the automation steps and their timeouts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			steps := workflow.StepTable(cfg.Timeouts)
			if jsonOutput {
				return writeJSON(cmd, steps)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(stepColumns, buildStepRows(steps)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

var stepColumns = []column{
	{Header: "#", Align: alignRight},
	{Header: "Step"},
	{Header: "Timeout", Align: alignRight},
	{Header: "Scope"},
}

func buildStepRows(steps []workflow.StepDescriptor) [][]string {
	rows := make([][]string, 0, len(steps))
	for _, step := range steps {
		scope := "once per run"
		if step.PerItem {
			scope = "per item"
		}
		rows = append(rows, []string{strconv.Itoa(step.ID), step.Label, step.Timeout.String(), scope})
	}
	return rows
}
