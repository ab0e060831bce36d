// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between transport boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SSEHeartbeat is the keep-alive interval for event-stream channels so
// idle proxies do not drop the connection.
const SSEHeartbeat = 15 * time.Second

// PollInterval is the interval the reference clients drain the polling
// fallback queue at. Documented here for operators tuning queue bounds.
const PollInterval = time.Second
