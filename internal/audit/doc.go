// Package audit dispatches security-relevant events asynchronously.
//
// # Components
//
//   - [Sink]: event consumers. [ZerologSink] logs them, [ChannelSink] hands
//     them to a goroutine and [SinkFunc] adapts a plain function.
//   - [Dispatcher]: buffered relay that either drops or blocks when full.
//   - [Event]: one decision with subject, device, client address and route.
//
// The Engine decides which events to emit. This package only buffers and
// delivers them.
//
// # What this package must NOT do
//
//   - Filter events based on business logic.
//   - Import goGate or any sibling internal package.
package audit
