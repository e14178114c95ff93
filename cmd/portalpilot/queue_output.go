package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"portalpilot/internal/api"
	"portalpilot/internal/queue"
)

var queueListColumns = []column{
	{Header: "#", Align: alignRight},
	{Header: "ID"},
	{Header: "Title", MaxWidth: 48},
	{Header: "Status"},
	{Header: "Priority", Align: alignRight},
	{Header: "Retries", Align: alignRight},
	{Header: "Added"},
}

func buildQueueListRows(items []api.QueueItem) [][]string {
	rows := make([][]string, 0, len(items))
	for i, item := range items {
		rows = append(rows, []string{
			strconv.Itoa(i),
			item.ID,
			item.Title,
			item.Status,
			strconv.Itoa(item.Priority),
			fmt.Sprintf("%d/%d", item.RetryCount, item.MaxRetries),
			relativeTime(item.AddedAt),
		})
	}
	return rows
}

var queueStatsColumns = []column{
	{Header: "Status"},
	{Header: "Count", Align: alignRight},
}

func buildQueueStatsRows(stats queue.Statistics) [][]string {
	rows := [][]string{
		{"Pending", strconv.Itoa(stats.Pending)},
		{"Retrying", strconv.Itoa(stats.Retrying)},
		{"Processing", strconv.Itoa(stats.Processing)},
		{"Completed", strconv.Itoa(stats.Completed)},
		{"Failed", strconv.Itoa(stats.Failed)},
		{"Skipped", strconv.Itoa(stats.Skipped)},
		{"Total", strconv.Itoa(stats.Total)},
		{"Remaining", strconv.Itoa(stats.Remaining())},
		{"Processed (lifetime)", strconv.Itoa(stats.TotalProcessed)},
		{"Failed (lifetime)", strconv.Itoa(stats.TotalFailed)},
	}
	return rows
}

func printQueueItem(out io.Writer, item api.QueueItem) {
	line := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(out, "%-16s %s\n", label+":", value)
	}
	line("ID", item.ID)
	line("Title", item.Title)
	line("Status", item.Status)
	line("Priority", strconv.Itoa(item.Priority))
	line("Retries", fmt.Sprintf("%d/%d", item.RetryCount, item.MaxRetries))
	line("Tags", strings.Join(item.Tags, ", "))
	line("Banner", item.BannerPath)
	line("Description", truncate(item.Description, 200))
	line("Short content", truncate(item.ShortContent, 120))
	line("Detail content", truncate(item.DetailedContent, 120))
	line("Added", item.AddedAt)
	line("Started", item.StartedAt)
	line("Processed", item.ProcessedAt)
	line("Duration", formatSeconds(item.ProcessingTime))
	line("Error", item.ErrorMessage)
}

func printRemoveResult(out io.Writer, requested, removed []string) {
	gone := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
	}
	for _, id := range requested {
		if _, ok := gone[id]; ok {
			fmt.Fprintf(out, "Item %s removed\n", id)
			continue
		}
		fmt.Fprintf(out, "Item %s not removed (missing or processing)\n", id)
	}
}
