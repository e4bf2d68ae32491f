// Package jobs tracks submitted cavity-detection jobs.
//
// A job moves through a monotonic lifecycle: submitted, queued, running, and
// finally one of completed, failed, or canceled. The in-memory Registry is
// the authoritative view while the process runs; the SQLite Catalog mirrors
// it so tracked jobs survive restarts and can be resumed.
package jobs
