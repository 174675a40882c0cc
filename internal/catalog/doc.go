// Package catalog defines the core types shared by the ingest pipeline: pending
// units of work, normalized row batches, completion markers and the failure
// taxonomy.
package catalog
