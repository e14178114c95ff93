package queue

import "context"

// Statistics counts items per status and reports the lifetime totals.
func (s *Store) Statistics(_ context.Context) (Statistics, error) {
	var stats Statistics
	s.read(func(snap *Snapshot) {
		stats.Total = len(snap.Queue)
		stats.TotalProcessed = snap.Metadata.TotalProcessed
		stats.TotalFailed = snap.Metadata.TotalFailed
		for _, item := range snap.Queue {
			switch item.Status {
			case StatusPending:
				stats.Pending++
			case StatusProcessing:
				stats.Processing++
			case StatusCompleted:
				stats.Completed++
			case StatusFailed:
				stats.Failed++
			case StatusSkipped:
				stats.Skipped++
			case StatusRetrying:
				stats.Retrying++
			}
		}
	})
	return stats, nil
}

// Metadata returns the lifetime counters.
func (s *Store) Metadata(_ context.Context) Metadata {
	var meta Metadata
	s.read(func(snap *Snapshot) { meta = snap.Metadata })
	return meta
}
