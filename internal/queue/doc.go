// Package queue implements the durable at-least-once job queue.
//
// Jobs live in the store; workers claim them one at a time under a
// time-bounded lease. A worker that crashes simply lets its lease expire,
// after which the job becomes claimable again. There is no watchdog and no
// extra locking: the atomic claim statement is the whole concurrency story.
package queue
