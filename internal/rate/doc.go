// Package rate implements the fixed-window counter shared by every rate-limit
// policy.
//
// # Window semantics
//
// One Lua round trip per call: INCR, PEXPIRE on the first hit of the window,
// then PTTL to report the reset time. Because the increment and the read
// happen atomically, N concurrent callers on one key see N distinct counts.
// Bursts of up to twice the limit across a window edge are accepted.
//
// # What this package must NOT do
//
//   - Implement policy keys or failure handling (those live in internal/limiters).
package rate
