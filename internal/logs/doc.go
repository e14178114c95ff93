// Package logs reads daemon log events for the CLI.
//
// StreamClient pages through the daemon's /api/logs endpoint, including
// long-poll follow mode. When the API is disabled or the daemon is down,
// TailFile reads the JSON log file the daemon writes and ParseLine turns
// each line back into a logging.LogEvent so both paths render the same way.
package logs
