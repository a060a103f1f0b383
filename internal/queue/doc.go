// Package queue persists conversion jobs in SQLite and hands them to workers.
//
// The Store owns schema initialization, ordering, and the atomic claim that
// moves exactly one pending entry to processing per call, even when several
// worker processes share the database. A session has at most one pending or
// processing entry at a time; terminal rows are kept for a retention window
// and then reaped.
//
// The database is transient storage for in-flight jobs rather than an
// archive. Schema changes bump schemaVersion in schema.go; operators clear
// the database to adopt the new schema.
package queue
