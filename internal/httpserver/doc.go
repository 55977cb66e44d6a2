// Package httpserver exposes the broadcast hub over HTTP: the /ws WebSocket endpoint,
// the publish API for backend collaborators, stats, health, version and Prometheus metrics.
package httpserver
