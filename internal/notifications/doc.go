// Package notifications delivers engine events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Each event kind
// can be switched off individually in the [notifications] section so an
// operator only gets pinged for what they care about (typically confirmation
// requests and permanent failures).
package notifications
