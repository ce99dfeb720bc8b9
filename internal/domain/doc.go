// Package domain models citizen-submitted coastal hazard reports and the
// durable queue entries that carry them between field stations and the
// central hazard API.
//
// # Report Lifecycle
//
// Reports are captured at shoreline monitoring stations that are frequently
// offline (harbor kiosks, beach patrol tablets, research vessels on cellular
// links). Every report is written to the local pending queue first and only
// leaves the queue after the hazard API acknowledges it. A queue entry moves
// through three states:
//
//	pending → syncing → (deleted on success)
//	                  → pending (transient failure, retry budget remaining)
//	                  → failed  (retry budget exhausted, or rejected outright)
//
// The "syncing" state exists only while a submission attempt is in flight.
// A process that dies mid-attempt leaves entries stuck in "syncing"; the
// store resets those to "pending" on the next open, so an interrupted
// attempt is simply retried.
//
// # Hazard Types
//
// Reports carry one of a fixed set of hazard types (exact matches only):
//
//	rip_current, storm_surge, high_surf, coastal_flood, erosion, debris, pollution
//
// The set mirrors the intake categories of the central hazard API. Unknown
// types are rejected at enqueue time rather than queued and bounced later.
//
// # Severity
//
// Severity is reporter-selected on a four-level scale: minor, moderate,
// severe, extreme. The same scale is used across the storm-data services so
// downstream consumers can query uniformly.
//
// # Media Attachments
//
// A report may carry one photo. Attachments are stored as data URIs
// ("data:image/jpeg;base64,...") so the blob survives serialization into a
// TEXT column and round-trips through JSON without a separate blob store.
// See [MediaAttachment].
//
// # Client IDs
//
// Every entry gets a UUID at enqueue time, before any network contact. The
// ID is stable across retries and is forwarded to the hazard API as
// client_report_id so the server can deduplicate resubmissions of an
// attempt that succeeded but whose acknowledgment was lost.
package domain
