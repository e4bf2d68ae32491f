// Package poller drives background status checks for submitted jobs.
//
// One goroutine owns each job. It waits out the initial scheduling delay,
// then checks the service on a jittered interval, backing off exponentially
// through transient failures. Permanent failures and completed results end
// the loop; cancellation stops it cooperatively and discards any in-flight
// snapshot.
package poller
