// Package store is the durable layer under the notification engine: events,
// preferences, the job queue, delivery attempts, and the deadline source.
//
// It is a single SQLite file (WAL mode) with the schema applied from an
// embedded migrations.sql. SQLite prefers a single writer, so the pool is
// capped at one connection; every statement that implements queue semantics
// (claim, complete, fail, mark-consumed) is a single atomic statement or an
// explicit transaction.
package store
