// Package notifications pushes job milestones to an ntfy topic.
//
// Without a configured topic the service degrades to a noop, so callers
// never need to check whether notifications are enabled.
package notifications
