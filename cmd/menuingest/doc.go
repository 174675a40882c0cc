// Package main hosts the menuingest entrypoint.
//
// Architecture overview:
//   - Pending sets: each kind (location, restaurant, tag) derives its work from Postgres. A unit is pending until a
//     completion marker row exists for it, so a run that stops early resumes where it stopped.
//   - Dispatch: one dispatcher per kind queries the pending set once, then fans units out to an errgroup bounded by
//     dispatch.concurrency. Every in-flight unit holds one pooled connection for its whole lifetime.
//   - Fetch: workers pass through a per-kind rate gate (minimum spacing plus a concurrency cap) before one Colly
//     round trip. Menus are a GraphQL POST; locations scrape the __NEXT_DATA__ script; tags are a JSON GET.
//   - Persist: the normalizer flattens a document into table-ordered row sets. The writer inserts them with
//     ON CONFLICT DO NOTHING and writes the marker in the same transaction, so a unit is all or nothing.
//   - Observability: zap logs carry run and unit IDs; Prometheus tracks unit outcomes, gate waits and fetch
//     latency; OpenTelemetry spans cover each run and unit; run summaries are stored in ingest_runs and optionally
//     published to Pub/Sub.
//
// Quick checklist:
//   - Configure env vars: MENUINGEST_DB_DSN, MENUINGEST_DISPATCH_CONCURRENCY, MENUINGEST_GATES_RESTAURANT_MIN_SPACING,
//     MENUINGEST_PUBSUB_PROJECT_ID/MENUINGEST_PUBSUB_TOPIC, MENUINGEST_TRACING_ENDPOINT.
//   - Prepare the schema: go run ./cmd/menuingest migrate up.
//   - Run locally: go run ./cmd/menuingest run --config config.yaml [location restaurant tag].
//   - Export: go run ./cmd/menuingest export writes one CSV per table to export.dir or export.gcs_bucket.
package main
