package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"portalpilot/internal/api"
	"portalpilot/internal/daemonctl"
	"portalpilot/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		deep       bool
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, engine, and queue status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg, deep)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, snapshot)
			}
			out := cmd.OutOrStdout()
			renderStatus(out, snapshot, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&deep, "check", false, "Also probe the portal entry URL")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderStatus(out io.Writer, snapshot *daemonctl.StatusSnapshot, colorize bool) {
	lines := renderSectionHeader("Daemon", colorize)
	if snapshot.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", snapshot.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	if snapshot.Backend != "" {
		lines = append(lines, renderStatusLine("Queue backend", statusInfo, snapshot.Backend, colorize))
	}
	if snapshot.APIBind != "" {
		lines = append(lines, renderStatusLine("HTTP API", statusInfo, snapshot.APIBind, colorize))
	}

	if snapshot.Running {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Engine", colorize)...)
		lines = append(lines, renderEngineLines(snapshot.Engine, colorize)...)
	}

	if len(snapshot.Checks) > 0 || len(snapshot.Probes) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Checks", colorize)...)
		for _, check := range snapshot.Checks {
			lines = append(lines, renderCheckLine(check.Name, check.OK, check.Detail, colorize))
		}
		for _, probe := range snapshot.Probes {
			lines = append(lines, renderCheckLine(probe.Name, probe.Passed, probe.Detail, colorize))
		}
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	fmt.Fprintln(out, strings.Join(lines, "\n"))
	fmt.Fprint(out, renderTable(queueStatsColumns, buildQueueStatsRows(snapshot.Queue)))
}

func renderEngineLines(engine api.EngineStatus, colorize bool) []string {
	lines := []string{renderStatusLine("State", engineKind(engine), engine.Status, colorize)}
	if engine.CurrentStep > 0 {
		label := engine.CurrentStepLabel
		if label == "" {
			label = workflow.StepLabel(workflow.Steps(), engine.CurrentStep)
		}
		lines = append(lines, renderStatusLine("Step", statusInfo, fmt.Sprintf("%d/%d %s", engine.CurrentStep, engine.TotalSteps, label), colorize))
	}
	if engine.CurrentItem != nil {
		lines = append(lines, renderStatusLine("Current item", statusInfo, fmt.Sprintf("%s (%s)", engine.CurrentItem.Title, engine.CurrentItem.ID), colorize))
	}
	if engine.WaitingForConfirmation != "" {
		message := engine.WaitingForConfirmation
		if engine.ConfirmationMessage != "" {
			message += ": " + engine.ConfirmationMessage
		}
		lines = append(lines, renderStatusLine("Awaiting", statusWarn, message, colorize))
	}
	progress := engine.Progress
	lines = append(lines, renderStatusLine("Progress", statusInfo,
		fmt.Sprintf("%d processed, %d failed, %d pending of %d", progress.Processed, progress.Failed, progress.Pending, progress.Total), colorize))
	if engine.StartTime != "" {
		lines = append(lines, renderStatusLine("Started", statusInfo, relativeTime(engine.StartTime), colorize))
	}
	if engine.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, engine.LastError, colorize))
	}
	return lines
}

func renderCheckLine(name string, ok bool, detail string, colorize bool) string {
	if ok {
		return renderStatusLine(name, statusOK, detail, colorize)
	}
	return renderStatusLine(name, statusError, detail, colorize)
}

func engineKind(engine api.EngineStatus) statusKind {
	switch {
	case engine.LastError != "" && !engine.IsRunning:
		return statusError
	case engine.WaitingForConfirmation != "" || engine.IsPaused:
		return statusWarn
	case engine.IsRunning:
		return statusOK
	default:
		return statusInfo
	}
}

// engineSummary condenses engine state for one-line command output.
func engineSummary(engine api.EngineStatus) string {
	parts := []string{engine.Status}
	if engine.CurrentStep > 0 {
		parts = append(parts, fmt.Sprintf("step %d/%d", engine.CurrentStep, engine.TotalSteps))
	}
	if engine.CurrentItem != nil {
		parts = append(parts, fmt.Sprintf("item %q", engine.CurrentItem.Title))
	}
	if engine.WaitingForConfirmation != "" {
		parts = append(parts, "awaiting "+engine.WaitingForConfirmation)
	}
	return strings.Join(parts, ", ")
}
