package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
)

// Enqueuer is the slice of the queue store ingestion needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.Payload, bannerPath string, priority int) (*queue.Item, error)
}

// FileResult reports the outcome for one input file.
type FileResult struct {
	Path string
	Item *queue.Item
	Err  error
}

// Options controls LoadFiles.
type Options struct {
	Priority   int
	BannerPath string
	Logger     *slog.Logger
}

// FormatForPath infers the document format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatAuto
	}
}

// LoadFiles normalises and enqueues each path. Directories are expanded to
// their *.json, *.yaml and *.yml entries. A bad file does not stop the rest.
func LoadFiles(ctx context.Context, store Enqueuer, paths []string, opts Options) ([]FileResult, error) {
	logger := logging.NewComponentLogger(opts.Logger, "ingest")
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}
	results := make([]FileResult, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := FileResult{Path: path}
		result.Item, result.Err = loadOne(ctx, store, path, opts)
		if result.Err != nil {
			logging.WarnWithContext(logger, "content file rejected", "ingest_rejected",
				logging.String("path", path),
				logging.Error(result.Err),
				logging.String(logging.FieldErrorHint, "check the title and field limits"),
			)
		} else {
			logger.Info("content file queued",
				logging.String("path", path),
				logging.String(logging.FieldItemID, result.Item.ID),
			)
		}
		results = append(results, result)
	}
	return results, nil
}

func loadOne(ctx context.Context, store Enqueuer, path string, opts Options) (*queue.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	payload, err := NormalizeFormat(data, FormatForPath(path))
	if err != nil {
		return nil, err
	}
	return store.Enqueue(ctx, payload, opts.BannerPath, opts.Priority)
}

// ExpandPaths replaces each directory with its *.json, *.yaml and *.yml
// entries. Plain files pass through whatever their extension.
func ExpandPaths(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if FormatForPath(name) != FormatAuto {
				files = append(files, filepath.Join(path, name))
			}
		}
	}
	return files, nil
}
