// Package sessions implements the gateway's session lifecycle core: the
// per-tenant state machine coordinating connect, authenticate, reconnect and
// teardown across an unbounded set of independently failing transport
// sessions.
//
// Layers & Roles
//
//	Orchestrator -> owns every state transition; single writer of the Registry
//	Registry     -> authoritative map of live sessions, constructor-injected
//	AwaitQR      -> bounded polling bridge between event-driven session setup
//	                and a request/response caller waiting on a pairing code
//
// Each established session runs exactly one consumer goroutine over its
// transport event stream, so one tenant's slow or failing session never
// blocks another's. Transient disconnects keep the registry entry and retry
// on a fixed delay, indefinitely; terminal closes and explicit termination
// remove the entry and clear the tenant's durable record.
//
// Durable status writes and credential persistence are best-effort: a store
// failure is logged and the state machine proceeds. The in-memory registry,
// not the durable record, is the source of truth for liveness queries.
package sessions
