package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"portalpilot/internal/api"
	"portalpilot/internal/config"
	"portalpilot/internal/ingest"
	"portalpilot/internal/queue"
	"portalpilot/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueIngestCommand(ctx))
	queueCmd.AddCommand(newQueueEditCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueMoveCommand(ctx))
	queueCmd.AddCommand(newQueueExportCommand(ctx))
	queueCmd.AddCommand(newQueueImportCommand(ctx))
	queueCmd.AddCommand(newQueueBackupCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var search string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items in processing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				items, err := q.List(cmd.Context(), search, statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueListResponse{Items: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(queueListColumns, buildQueueListRows(items)))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().StringVarP(&search, "search", "q", "", "Match title, description, or tags")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				item, err := q.Describe(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, item)
				}
				printQueueItem(cmd.OutOrStdout(), *item)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		payload  queue.Payload
		banner   string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue one content item",
		RunE: func(cmd *cobra.Command, args []string) error {
			bannerPath, err := expandOptionalPath(banner)
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				item, err := q.Add(cmd.Context(), api.EnqueueRequest{
					Payload:    payload,
					BannerPath: bannerPath,
					Priority:   priority,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s)\n", item.ID, item.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&payload.Title, "title", "t", "", "Content title (required)")
	cmd.Flags().StringVarP(&payload.Description, "description", "d", "", "Content description")
	cmd.Flags().StringSliceVar(&payload.Tags, "tag", nil, "Keyword tag (repeatable)")
	cmd.Flags().StringVar(&payload.ShortContent, "short", "", "Short content HTML")
	cmd.Flags().StringVar(&payload.DetailedContent, "detail", "", "Detailed content HTML")
	cmd.Flags().StringVarP(&banner, "banner", "b", "", "Banner image path")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Priority (higher runs first)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newQueueIngestCommand(ctx *commandContext) *cobra.Command {
	var priority int
	var format string

	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Enqueue JSON or YAML content documents",
		Long: "Each file holds one document, or a JSON array of documents. " +
			"Directories are scanned for .json, .yaml, and .yml files.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			forced, err := parseIngestFormat(format)
			if err != nil {
				return err
			}
			files, err := collectIngestFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errors.New("no .json, .yaml, or .yml files found")
			}
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				out := cmd.OutOrStdout()
				added, failed := 0, 0
				for _, path := range files {
					data, err := os.ReadFile(path)
					if err != nil {
						fmt.Fprintf(out, "%s: %v\n", path, err)
						failed++
						continue
					}
					fileFormat := forced
					if fileFormat == ingest.FormatAuto {
						fileFormat = ingest.FormatForPath(path)
					}
					results, err := q.Upload(cmd.Context(), data, fileFormat, priority)
					if err != nil {
						fmt.Fprintf(out, "%s: %v\n", path, err)
						failed++
						continue
					}
					for i, result := range results {
						label := path
						if len(results) > 1 {
							label = fmt.Sprintf("%s[%d]", path, i)
						}
						if result.Error != "" {
							fmt.Fprintf(out, "%s: %s\n", label, result.Error)
							failed++
							continue
						}
						fmt.Fprintf(out, "%s: queued %s (%s)\n", label, result.Item.ID, result.Item.Title)
						added++
					}
				}
				fmt.Fprintf(out, "Queued %d item(s), %d failed\n", added, failed)
				if added == 0 && failed > 0 {
					return errors.New("no items were queued")
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Priority for every ingested item")
	cmd.Flags().StringVar(&format, "format", "", "Force json or yaml instead of detecting by extension")
	return cmd
}

func newQueueEditCommand(ctx *commandContext) *cobra.Command {
	var (
		priority   int
		banner     string
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the priority, banner, or retry budget of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update queue.ItemUpdate
			flags := cmd.Flags()
			if flags.Changed("priority") {
				update.Priority = &priority
			}
			if flags.Changed("banner") {
				bannerPath, err := expandOptionalPath(banner)
				if err != nil {
					return err
				}
				update.BannerPath = &bannerPath
			}
			if flags.Changed("max-retries") {
				update.MaxRetries = &maxRetries
			}
			if update.Priority == nil && update.BannerPath == nil && update.MaxRetries == nil {
				return errors.New("nothing to change; pass --priority, --banner, or --max-retries")
			}
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				item, err := q.Update(cmd.Context(), strings.TrimSpace(args[0]), update)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (priority %d)\n", item.ID, item.Priority)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "New priority")
	cmd.Flags().StringVarP(&banner, "banner", "b", "", "New banner image path (empty clears it)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "New retry budget")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-status counts and lifetime totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(queueStatsColumns, buildQueueStatsRows(stats)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Give failed items a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass item ids or --all")
			}
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				out := cmd.OutOrStdout()
				if all {
					n, err := q.RetryAll(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Queued %d failed item(s) for retry\n", n)
					return nil
				}
				var errs []error
				for _, id := range args {
					if _, err := q.Retry(cmd.Context(), strings.TrimSpace(id)); err != nil {
						fmt.Fprintf(out, "Item %s: %v\n", id, err)
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(out, "Item %s queued for retry\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every failed item")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove items from the queue",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				removed, err := q.Delete(cmd.Context(), args)
				if err != nil {
					return err
				}
				printRemoveResult(cmd.OutOrStdout(), args, removed)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item not currently processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("clearing removes queued work; re-run with --force")
			}
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				n, err := q.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d queue item(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm removal")
	return cmd
}

func newQueueMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <from> <to>",
		Short: "Move an item between list positions (0-based, as shown by list)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid position %q", args[0])
			}
			to, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q", args[1])
			}
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				if err := q.Reorder(cmd.Context(), from, to); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved item from position %d to %d\n", from, to)
				return nil
			})
		},
	}
}

func newQueueExportCommand(ctx *commandContext) *cobra.Command {
	var format string
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the queue as json or csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				data, err := q.Export(cmd.Context(), strings.ToLower(strings.TrimSpace(format)))
				if err != nil {
					return err
				}
				if strings.TrimSpace(output) == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				target, err := config.ExpandPath(output)
				if err != nil {
					return err
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported queue to %s\n", target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", queue.FormatJSON, "Export format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newQueueImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the queue with a json export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				n, err := q.Import(cmd.Context(), data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d item(s)\n", n)
				return nil
			})
		},
	}
}

func newQueueBackupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a point-in-time queue backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q queueaccess.Access) error {
				path, err := q.Backup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
				return nil
			})
		},
	}
}

func parseIngestFormat(value string) (ingest.Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return ingest.FormatAuto, nil
	case "json":
		return ingest.FormatJSON, nil
	case "yaml", "yml":
		return ingest.FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json or yaml)", value)
	}
}

func collectIngestFiles(args []string) ([]string, error) {
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		path, err := config.ExpandPath(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return ingest.ExpandPaths(paths)
}

func expandOptionalPath(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return config.ExpandPath(value)
}
