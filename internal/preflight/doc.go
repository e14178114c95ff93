// Package preflight provides readiness checks for the browser, filesystem
// paths, and external services portalpilot depends on.
//
// These checks run in two contexts:
//   - The engine calls CheckPaths before launching a browser. If any
//     directory check fails the run ends in error before the portal is touched.
//   - The daemon and the CLI "portalpilot status --check" command call RunAll
//     to display browser, notification, and portal readiness.
//
// Each check is gated by its config toggle; unconfigured features are skipped.
package preflight
