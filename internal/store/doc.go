// Package store keeps the console's activity trail in SQLite.
//
// Every lifecycle pipeline that changes remote state appends one Activity
// row when it finishes. The trail is a record of what was done from this
// console; nothing reads it back to drive a pipeline.
//
// The store uses SQLite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Use NewMockStore() in unit tests and NewSQLiteStore(":memory:") when a real
// database is wanted.
package store
