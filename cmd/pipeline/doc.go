// Package main hosts the pipeline binary.
//
// Architecture overview:
//   - Fetch: a NewsAPI-compatible client rotates through the configured keys and fans topic requests out on a
//     bounded ants pool. Every call builds its own key pool state and deduplicator.
//   - Store: fetched articles are upserted by ID into memory, Badger or Postgres. Enrichment fields already stored
//     are never overwritten by a re-fetch.
//   - Enrich: each enrichment stage selects only the records still missing its field, calls the collaborator in
//     chunks and streams results to a single writer.
//   - Serve: the chi API queues runs for a single worker, exposes run records and article lookups, and serves
//     Prometheus metrics on /metrics.
//
// Quick checklist:
//   - Configure env vars: PIPELINE_NEWSAPI_KEYS, PIPELINE_STORE_DRIVER and PIPELINE_STORE_DSN, PIPELINE_INFERENCE_URL,
//     PIPELINE_EMBEDDING_MODEL, and PIPELINE_PUBSUB_PROJECT_ID/PIPELINE_PUBSUB_TOPIC_NAME for run notifications.
//   - One pass: go run ./cmd/pipeline run --config config.yaml
//   - Service: go run ./cmd/pipeline serve --port 8080
package main
