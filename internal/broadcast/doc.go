// Package broadcast implements the WebSocket pub/sub core.
//
// Registry owns live connections and their liveness flags, Index keeps the topic to
// subscriber mapping consistent with each connection's own topic set, and Router handles
// client messages and fans domain events out. Service runs all three on a single goroutine
// fed by a command channel (no mutexes) and drives the heartbeat sweep from an injected clock.
// Writer gives each WebSocket its own write goroutine so a slow client only loses its own messages.
package broadcast
