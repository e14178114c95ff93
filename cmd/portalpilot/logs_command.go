package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"portalpilot/internal/config"
	"portalpilot/internal/logging"
	"portalpilot/internal/logs"
)

type logsFilter struct {
	component string
	itemID    string
}

func (f logsFilter) match(evt logging.LogEvent) bool {
	if f.component != "" && !strings.EqualFold(evt.Component, f.component) {
		return false
	}
	if f.itemID != "" && evt.ItemID != f.itemID {
		return false
	}
	return true
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		lines  int
		filter logsFilter
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := streamLogsFromAPI(cmd, cfg, lines, follow, filter); err == nil {
				return nil
			} else if !errors.Is(err, logs.ErrAPIUnavailable) {
				return err
			}
			return tailLogFile(cmd, filepath.Join(cfg.Paths.LogDir, "portalpilot.log"), lines, follow, filter)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to show (0 for all)")
	cmd.Flags().StringVar(&filter.component, "component", "", "Only show events from this component")
	cmd.Flags().StringVar(&filter.itemID, "item", "", "Only show events for this queue item ID")
	return cmd
}

func streamLogsFromAPI(cmd *cobra.Command, cfg *config.Config, lines int, follow bool, filter logsFilter) error {
	client, err := logs.NewStreamClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
	if err != nil {
		return err
	}
	if client == nil {
		return logs.ErrAPIUnavailable
	}

	ctx := cmd.Context()
	query := logs.StreamQuery{
		Limit:     lines,
		Tail:      true,
		Component: filter.component,
		ItemID:    filter.itemID,
	}
	if query.Limit <= 0 {
		query.Limit = 200
	}
	out := cmd.OutOrStdout()
	printed := false
	for {
		resp, err := client.Fetch(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if logs.IsAPIUnavailable(err) {
				if printed {
					return fmt.Errorf("log stream interrupted: %w", err)
				}
				return logs.ErrAPIUnavailable
			}
			return err
		}
		for _, evt := range resp.Events {
			fmt.Fprintln(out, formatLogEvent(evt))
			printed = true
		}
		if !follow {
			if !printed {
				fmt.Fprintln(out, "No log entries available")
			}
			return nil
		}
		query.Since = resp.Next
		query.Limit = 200
		query.Tail = false
		query.Follow = true
	}
}

func tailLogFile(cmd *cobra.Command, path string, lines int, follow bool, filter logsFilter) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	opts := logs.TailOptions{Offset: -1, Limit: lines, Wait: time.Second}
	if lines <= 0 {
		opts.Offset = 0
	}
	printed := false
	for {
		result, err := logs.TailFile(ctx, path, opts)
		if err != nil {
			return fmt.Errorf("tail logs: %w", err)
		}
		printed = printLogLines(out, result.Lines, filter) || printed
		if !follow {
			if !printed {
				fmt.Fprintln(out, "No log entries available")
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		opts.Offset = result.Offset
		opts.Follow = true
	}
}

func printLogLines(out io.Writer, lines []string, filter logsFilter) bool {
	printed := false
	for _, line := range lines {
		evt, ok := logs.ParseLine(line)
		if !ok {
			if filter.component == "" && filter.itemID == "" {
				fmt.Fprintln(out, line)
				printed = true
			}
			continue
		}
		if !filter.match(evt) {
			continue
		}
		fmt.Fprintln(out, formatLogEvent(evt))
		printed = true
	}
	return printed
}

func formatLogEvent(evt logging.LogEvent) string {
	ts := evt.Timestamp.Local().Format("2006-01-02 15:04:05")
	level := strings.ToUpper(strings.TrimSpace(evt.Level))
	if level == "" {
		level = "INFO"
	}
	parts := []string{ts, level}
	if component := strings.TrimSpace(evt.Component); component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", component))
	}
	if evt.ItemID != "" {
		parts = append(parts, evt.ItemID)
	}
	if evt.Step > 0 {
		parts = append(parts, fmt.Sprintf("step %d", evt.Step))
	}
	line := strings.Join(parts, " ")
	if message := strings.TrimSpace(evt.Message); message != "" {
		line += " – " + message
	}
	if len(evt.Fields) == 0 {
		return line
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	builder.WriteString(line)
	for _, key := range keys {
		value := strings.TrimSpace(evt.Fields[key])
		if value == "" {
			continue
		}
		builder.WriteString("\n    - ")
		builder.WriteString(key)
		builder.WriteString(": ")
		builder.WriteString(value)
	}
	return builder.String()
}
