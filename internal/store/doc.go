// Package store defines interfaces for persisting ingest run records.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
