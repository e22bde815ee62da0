// Package vpn drives VPN sessions through the openvpn3 control-plane
// executable for OpenVPN3 Manager.
//
// This package implements the core session lifecycle:
//
//   - Gateway: runs the control-plane executable with bounded timeouts
//     and delivers structured results, never interpreting exit codes
//   - Parser: converts the tool's human-formatted reports (config
//     listing, session listing, per-session statistics) into typed
//     records, degrading to empty fields instead of failing
//   - Manager: the state machine owning connection intent, reconciling
//     it against polled reports without racing user actions
//   - RateTracker: rolling per-direction traffic rate history
//   - Migrator: one-way migration of plaintext auth files into the
//     credential store
//
// # Concurrency
//
// The Manager owns all mutable state and mutates it only on a single
// event loop goroutine. Gateway invocations run on ephemeral background
// goroutines; their completions are posted back onto the loop's
// serialized queue. Completions are applied in enqueue order, not issue
// order, so the transient Connecting/Disconnecting states double as
// guards that keep a slow stale poll from overwriting the result of a
// faster user action. There is no cooperative cancellation of an
// in-flight external call; the per-call timeout is the only bound.
//
// # Session tracking
//
// At most one session is tracked at a time. When a listing reports
// several, only the first is monitored; CleanupAll is the escape hatch
// for disconnecting everything.
package vpn
