// Package notifications publishes conversion outcomes to ntfy.
//
// NewService returns a no-op when notifications.ntfy_topic is empty, so
// callers publish unconditionally. Events map to a fixed title, tag set and
// priority; payload keys fill the message body.
package notifications
