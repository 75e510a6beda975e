// Package session implements the client-side connection controller: the
// server directory, the connect/disconnect state machine, the telemetry
// sampler and the auto-connect policy.
//
// A Controller owns one event loop goroutine. Every state change, timer
// callback and remote-call completion runs on that goroutine, so none of
// the types in this package need locks of their own. Directory, Sampler and
// AutoConnect are exported for reuse and tests but are not safe for
// concurrent use outside a Controller.
package session
