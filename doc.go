// Package bridge implements a duplex, end-to-end encrypted message channel
// between two peers — an "app" and a "wallet" in TON Connect's terms —
// carried over a dumb store-and-forward relay that only speaks HTTP POST
// and Server-Sent Events.
//
// The package is split into two layers, mirroring how the relay protocol
// itself separates transport from session policy:
//
//   - Gateway owns exactly one SSE subscription plus the two static HTTP
//     sends (message, verify). It has no retry policy of its own: a failed
//     registerSession or a stream error is reported, never retried.
//   - Provider owns a set of ClientConnections (one CryptoSession per
//     remote peer), drives Gateway (re)connection through an
//     exponential-backoff retry engine, supervises a heartbeat watchdog,
//     and handles encryption/decryption and snake_case-to-camelCase
//     mapping at the wire boundary.
//
// Most callers only need Provider: OpenProvider, Send, Listen, and Close
// cover the common "open, exchange messages, shut down" lifecycle.
package bridge
