// Package audit implements asynchronous dispatch of security-relevant events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON lines, slog, fan-out, alerts).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: append-only record with a sortable ID, account, actor, IP, and metadata.
//   - [AlertSink]: forwards the security alert subset to a [Publisher].
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic, beyond AlertSink's type filter.
//   - Import agriauth.
//   - Block the emitting goroutine when DropIfFull is set.
package audit
