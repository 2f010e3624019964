// Package metrics defines the Prometheus collectors exported by switchboard.
//
// Collectors are package-level globals registered with promauto; components
// increment them directly. The gateway mounts promhttp.Handler at the
// configured metrics path.
package metrics
