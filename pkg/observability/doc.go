// Package observability bundles the engine's operational surface:
// structured JSON logging over slog, Prometheus metrics for the
// configuration watcher and reconciliation paths, and HTTP health
// probes over the backing stores.
package observability
