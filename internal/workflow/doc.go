// Package workflow drives queue items through the portal's publishing form.
//
// The Engine owns one browser session per run. It performs the one-time
// session setup (launch, navigate, operator login, school panel, content
// page) and then pulls eligible items from the queue one at a time, opening
// the add-content form, waiting on the operator at the banner and submit
// gates, filling the form, and recording the outcome on the item.
//
// Control calls (Start, Pause, Resume, Stop, Skip, Confirm) are safe from any
// goroutine; their effect is observed at the next step checkpoint. Every
// state change is fanned out to subscribers without blocking the run.
//
// The step table in steps.go is descriptive only: it feeds progress reports
// and step timeouts, never branching logic.
package workflow
