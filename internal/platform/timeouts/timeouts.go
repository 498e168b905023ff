// Package timeouts defines shared timeout constants for the SIRE server.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// AuditFlush caps how long shutdown waits for queued audit events to drain.
const AuditFlush = 3 * time.Second

// SocketWrite bounds a single WebSocket frame write to one client.
const SocketWrite = 5 * time.Second
