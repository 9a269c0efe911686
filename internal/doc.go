// Package internal holds the challenge and one-time code primitives shared
// by the MFA flow.
//
// Sub-packages:
//
//   - audit: async event dispatch and the Pub/Sub alert sink
//   - config: YAML and environment configuration for cmd/agriauth
//   - grpcapi, httpapi: the service transports
//   - ids: ULID request and record identifiers
//   - logger: slog construction
//   - metrics: lock-free counters and latency histograms
//   - rate: fixed-window counters over Redis or memory
//   - stores: single-use MFA challenge storage
package internal
