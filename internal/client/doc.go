// Package client is the top-level entry point for tracking cavity-detection
// jobs on a KVFinder-web service.
//
// A Client owns the job registry, the on-disk catalog, the result
// materializer, and one polling goroutine per active job. Hosts submit
// structures, receive lifecycle events over a channel, and read completed
// results from the jobs directory. A file lock on the jobs directory keeps
// concurrent kvweb processes from fighting over the same catalog.
package client
