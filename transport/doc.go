// Package transport defines the boundary between the session gateway and the
// upstream messaging provider. The gateway consumes a per-session stream of
// tagged events (QR, Opened, Closed, CredsChanged, Message) and issues the
// two commands the lifecycle requires: open and logout. Everything about the
// wire protocol itself — encryption, handshake mechanics, payload encoding —
// lives behind a Transport implementation.
//
// Events for a single Handle are delivered in emission order. Consumers own
// exactly one goroutine per handle; the channel-based shape exists so that a
// slow or failing session can never re-enter gateway code on a transport
// callback stack.
package transport
