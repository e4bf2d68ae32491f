// Package services defines the shared error taxonomy used by the web-service
// client and the polling scheduler.
//
// Every failure that crosses a component boundary is tagged with one of the
// exported sentinel errors so callers can classify it with errors.Is: permanent
// conditions (validation, rejection, unknown id, malformed payload) are never
// retried, while transient conditions feed the scheduler's backoff path.
//
// Use Wrap when surfacing errors from a component so messages carry consistent
// component/operation context.
package services
