// Package server exposes the HTTP surface: the WebSocket upgrade endpoint
// with its admission pipeline (per-IP cap, then connection rate limit, then
// bearer auth, then global cap), the health probes, and the Prometheus
// metrics endpoint.
package server
