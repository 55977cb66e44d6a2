// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (topic.go, message.go, errors.go, ports.go) hold shared types and the
// contracts between the broadcast core and its collaborators. No implementation code beyond
// value-type helpers. Interfaces live here to keep adapters from importing each other.
package domain
