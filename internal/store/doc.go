// Package store persists extracted records into a relational table. It owns
// the connection lifecycle and the SQL it issues; drivers plug in through a
// Connector and never leak into callers.
//
// Plain inserts propagate every error to the caller. The upsert family runs
// inside a transaction, rolls back on failure and reports the failure only to
// the log unless the store is opened in strict mode.
package store
