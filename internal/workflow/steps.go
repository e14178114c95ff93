package workflow

import (
	"time"

	"portalpilot/internal/config"
)

// Step identifiers in pipeline order.
const (
	StepLaunch = iota + 1
	StepNavigate
	StepSchoolPanel
	StepContentPage
	StepCategory
	StepAddContent
	StepBanner
	StepTitle
	StepEndDate
	StepContentSource
	StepDescription
	StepTags
	StepShortContent
	StepDetailContent
	StepSubmit
)

// StepDescriptor describes one pipeline step for progress reporting. A zero
// Timeout means the step waits indefinitely; PerItem marks steps repeated for
// every queue item.
type StepDescriptor struct {
	ID      int           `json:"id"`
	Label   string        `json:"label"`
	Timeout time.Duration `json:"timeout"`
	PerItem bool          `json:"perItem"`
}

// Steps returns the step table built from the default timeouts.
func Steps() []StepDescriptor {
	return StepTable(config.Default().Timeouts)
}

// StepTable builds the step table for the configured timeouts.
func StepTable(t config.Timeouts) []StepDescriptor {
	short := seconds(t.Short)
	medium := seconds(t.Medium)
	long := seconds(t.Long)
	return []StepDescriptor{
		{ID: StepLaunch, Label: "Launch browser", Timeout: medium},
		{ID: StepNavigate, Label: "Open portal entry page", Timeout: medium},
		{ID: StepSchoolPanel, Label: "Open school panel", Timeout: long},
		{ID: StepContentPage, Label: "Open content page", Timeout: long},
		{ID: StepCategory, Label: "Open news category", Timeout: medium, PerItem: true},
		{ID: StepAddContent, Label: "Open add-content form", Timeout: medium, PerItem: true},
		{ID: StepBanner, Label: "Wait for banner upload", PerItem: true},
		{ID: StepTitle, Label: "Fill title", Timeout: short, PerItem: true},
		{ID: StepEndDate, Label: "Fill publish end date", Timeout: short, PerItem: true},
		{ID: StepContentSource, Label: "Select content source", Timeout: short, PerItem: true},
		{ID: StepDescription, Label: "Fill description", Timeout: short, PerItem: true},
		{ID: StepTags, Label: "Fill tags", Timeout: short, PerItem: true},
		{ID: StepShortContent, Label: "Fill short content", Timeout: short, PerItem: true},
		{ID: StepDetailContent, Label: "Fill detailed content", Timeout: short, PerItem: true},
		{ID: StepSubmit, Label: "Submit form", Timeout: medium, PerItem: true},
	}
}

// StepLabel returns the label for id, or "" for unknown ids.
func StepLabel(steps []StepDescriptor, id int) string {
	for _, step := range steps {
		if step.ID == id {
			return step.Label
		}
	}
	return ""
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
