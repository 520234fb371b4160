// Package metrics exposes supervisor activity as Prometheus metrics.
//
// Collectors live on a private registry so tests and the daemon never
// collide with the global default registry. The Collector implements the
// supervisor observer interfaces; Handler serves the registry in the text
// exposition format for GET /metrics.
package metrics
