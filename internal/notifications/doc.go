// Package notifications pushes short operator alerts to an ntfy topic.
//
// NewService returns a noop implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. Each event
// family (new leads, failed records, finished drains) can be switched off
// independently in the [notifications] config section.
package notifications
