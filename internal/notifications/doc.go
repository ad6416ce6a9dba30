// Package notifications publishes run milestones to ntfy.
//
// The topic URL comes from [notifications] ntfy_topic; without one the
// service is a no-op. Callers depend only on the Service interface and pass
// event fields as a Payload map.
package notifications
