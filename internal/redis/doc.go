// Package redis carries broadcast traffic between service instances.
//
// Relay is a domain.Broadcaster that publishes events to one Redis Pub/Sub channel;
// RelaySubscriber consumes that channel on every instance and delivers to local connections.
// The client is instrumented with metrics and protected by a circuit breaker.
package redis
